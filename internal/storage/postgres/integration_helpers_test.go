package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// openIntegrationStore открывает базу из CHECKOUT_TEST_POSTGRES_DSN, применяет
// миграции и очищает таблицы. Без переменной тест пропускается.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("CHECKOUT_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("CHECKOUT_TEST_POSTGRES_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE checkout_timeline, idempotency_keys, pending_orders, outbox_messages, shipping_addresses, order_items, orders
	`); err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
	return store
}
