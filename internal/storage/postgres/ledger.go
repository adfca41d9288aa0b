package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Ledger хранит PendingOrder в таблице pending_orders для развёртываний без Redis.
type Ledger struct {
	store  *Store
	ttl    time.Duration
	logger *log.Entry
}

var (
	_ domain.PendingOrderLedger = (*Ledger)(nil)
	_ domain.LedgerJanitor      = (*Ledger)(nil)
)

// NewLedger создаёт ledger поверх Postgres.
func NewLedger(store *Store, ttl time.Duration, logger *log.Entry) *Ledger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = log.New().WithField("component", "ledger-postgres")
	}
	return &Ledger{store: store, ttl: ttl, logger: logger}
}

// Put перезаписывает запись сессии (upsert).
func (l *Ledger) Put(ctx context.Context, sessionID string, order domain.PendingOrder) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal pending order: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err = l.store.db.ExecContext(ctx, `
		INSERT INTO pending_orders (session_id, payload, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at
	`, sessionID, payload, time.Now().UTC().Add(l.ttl))
	if err != nil {
		return fmt.Errorf("upsert pending order: %w", err)
	}
	return nil
}

// TakeIfPresent удаляет запись одним DELETE ... RETURNING.
func (l *Ledger) TakeIfPresent(ctx context.Context, sessionID string) (domain.PendingOrder, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payload []byte
	err := l.store.db.QueryRowContext(ctx, `
		DELETE FROM pending_orders
		WHERE session_id = $1 AND expires_at > NOW()
		RETURNING payload
	`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingOrder{}, false
	}
	if err != nil {
		l.logger.WithError(err).WithField("session_id", sessionID).Warn("pending order lookup failed, treating as absent")
		return domain.PendingOrder{}, false
	}

	var order domain.PendingOrder
	if err := json.Unmarshal(payload, &order); err != nil {
		l.logger.WithError(err).WithField("session_id", sessionID).Warn("corrupted pending order treated as absent")
		return domain.PendingOrder{}, false
	}
	return order, true
}

// Discard удаляет запись сессии.
func (l *Ledger) Discard(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := l.store.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("discard pending order: %w", err)
	}
	return nil
}

// DeleteExpired удаляет до limit просроченных записей (все при limit <= 0).
func (l *Ledger) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = l.store.db.ExecContext(ctx, `
			DELETE FROM pending_orders
			WHERE session_id IN (
				SELECT session_id FROM pending_orders
				WHERE expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = l.store.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE expires_at <= $1`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired pending orders: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for pending orders: %w", err)
	}
	return int(affected), nil
}
