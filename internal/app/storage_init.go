package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

// runtimeDependencies: хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	addresses domain.AddressStore
	ledger    domain.PendingOrderLedger
	// janitor nil, если записи ledger истекают средствами хранилища (Redis TTL).
	janitor domain.LedgerJanitor
	carts   domain.CartRepository
	// idempotency всегда в основном хранилище: Redis его не подменяет.
	idempotency interface {
		domain.IdempotencyRepository
		domain.LedgerJanitor
	}
	timeline domain.TimelineRepository
	checks   map[string]health.Checker
	closers  []func() error
}

func (d *runtimeDependencies) Close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checks: make(map[string]health.Checker)}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		ledger := memory.NewLedger(cfg.LedgerTTL, logger.WithField("component", "ledger-memory"))
		deps.orders = memory.NewOrderRepository()
		deps.outbox = memory.NewOutboxRepository()
		deps.addresses = memory.NewAddressStore()
		deps.ledger = ledger
		deps.janitor = ledger
		deps.carts = memory.NewCartRepository()
		deps.idempotency = memory.NewIdempotencyRepository()
		deps.timeline = memory.NewTimelineRepository()
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires CHECKOUT_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				deps.Close(logger)
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		ledger := postgres.NewLedger(store, cfg.LedgerTTL, logger.WithField("component", "ledger-postgres"))
		deps.orders = postgres.NewOrderRepository(store)
		deps.outbox = postgres.NewOutboxRepository(store)
		deps.addresses = postgres.NewAddressStore(store)
		deps.ledger = ledger
		deps.janitor = ledger
		deps.carts = memory.NewCartRepository()
		deps.idempotency = postgres.NewIdempotencyRepository(store)
		deps.timeline = postgres.NewTimelineRepository(store)
		deps.checks["postgres"] = health.NewProbeChecker("postgres", store.Ping)
		logger.Info("postgres storage initialized")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			deps.Close(logger)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.closers = append(deps.closers, client.Close)
		deps.ledger = redisstore.NewLedger(client, cfg.LedgerTTL, logger.WithField("component", "ledger-redis"))
		deps.janitor = nil
		deps.carts = redisstore.NewCartRepository(client, cfg.CartTTL)
		deps.checks["redis"] = health.NewProbeChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.WithField("addr", cfg.RedisAddr).Info("redis ledger and carts initialized")
	}

	return deps, nil
}
