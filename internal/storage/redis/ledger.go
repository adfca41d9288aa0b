package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultLedgerTTL = 24 * time.Hour

// Ledger хранит PendingOrder в Redis: одна запись на сессию, JSON, с TTL.
type Ledger struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger *log.Entry
}

var _ domain.PendingOrderLedger = (*Ledger)(nil)

// NewLedger создаёт ledger поверх клиента Redis.
func NewLedger(client goredis.UniversalClient, ttl time.Duration, logger *log.Entry) *Ledger {
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	if logger == nil {
		logger = log.New().WithField("component", "ledger-redis")
	}
	return &Ledger{client: client, ttl: ttl, logger: logger}
}

// Put перезаписывает запись сессии и обновляет TTL.
func (l *Ledger) Put(ctx context.Context, sessionID string, order domain.PendingOrder) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal pending order: %w", err)
	}
	if err := l.client.Set(ctx, ledgerKey(sessionID), payload, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set pending order: %w", err)
	}
	return nil
}

// TakeIfPresent атомарно читает и удаляет запись через GETDEL. Любая ошибка
// хранилища или повреждённые данные трактуются как отсутствие записи.
func (l *Ledger) TakeIfPresent(ctx context.Context, sessionID string) (domain.PendingOrder, bool) {
	data, err := l.client.GetDel(ctx, ledgerKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.PendingOrder{}, false
	}
	if err != nil {
		l.logger.WithError(err).WithField("session_id", sessionID).Warn("pending order lookup failed, treating as absent")
		return domain.PendingOrder{}, false
	}

	var order domain.PendingOrder
	if err := json.Unmarshal(data, &order); err != nil {
		l.logger.WithError(err).WithField("session_id", sessionID).Warn("corrupted pending order treated as absent")
		return domain.PendingOrder{}, false
	}
	return order, true
}

// Discard удаляет запись сессии.
func (l *Ledger) Discard(ctx context.Context, sessionID string) error {
	if err := l.client.Del(ctx, ledgerKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete pending order: %w", err)
	}
	return nil
}

func ledgerKey(sessionID string) string {
	return fmt.Sprintf("checkout:pending:%s", sessionID)
}
