package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type ledgerEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Ledger: одна ячейка PendingOrder на сессию. Запись хранится сериализованной,
// поэтому прочитанное значение совпадает с записанным байт в байт.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *log.Entry
}

var (
	_ domain.PendingOrderLedger = (*Ledger)(nil)
	_ domain.LedgerJanitor      = (*Ledger)(nil)
)

// NewLedger создаёт in-memory ledger; ttl <= 0 отключает истечение.
func NewLedger(ttl time.Duration, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "ledger-memory")
	}
	return &Ledger{
		entries: make(map[string]ledgerEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Put перезаписывает запись сессии.
func (l *Ledger) Put(_ context.Context, sessionID string, order domain.PendingOrder) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}

	entry := ledgerEntry{payload: payload}
	if l.ttl > 0 {
		entry.expiresAt = l.now().Add(l.ttl)
	}

	l.mu.Lock()
	l.entries[sessionID] = entry
	l.mu.Unlock()
	return nil
}

// TakeIfPresent читает и удаляет запись за одну блокировку.
func (l *Ledger) TakeIfPresent(_ context.Context, sessionID string) (domain.PendingOrder, bool) {
	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	delete(l.entries, sessionID)
	l.mu.Unlock()

	if !ok || l.expired(entry) {
		return domain.PendingOrder{}, false
	}

	var order domain.PendingOrder
	if err := json.Unmarshal(entry.payload, &order); err != nil {
		l.logger.WithError(err).WithField("session_id", sessionID).Warn("corrupted pending order treated as absent")
		return domain.PendingOrder{}, false
	}
	return order, true
}

// Discard удаляет запись сессии.
func (l *Ledger) Discard(_ context.Context, sessionID string) error {
	l.mu.Lock()
	delete(l.entries, sessionID)
	l.mu.Unlock()
	return nil
}

// DeleteExpired удаляет записи, истёкшие к моменту before, и возвращает их количество.
func (l *Ledger) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deleted := 0
	for id, entry := range l.entries {
		if limit > 0 && deleted >= limit {
			break
		}
		if !entry.expiresAt.IsZero() && !before.Before(entry.expiresAt) {
			delete(l.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len возвращает число записей, включая ещё не вычищенные просроченные.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) expired(entry ledgerEntry) bool {
	return !entry.expiresAt.IsZero() && !l.now().Before(entry.expiresAt)
}
