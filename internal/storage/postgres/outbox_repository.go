package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	defaultOutboxBatch = 100
	// maxPerAggregate: сколько событий одной сессии попадает в пачку.
	maxPerAggregate = 8
)

// outboxStore: события жизненного цикла оформления в outbox_messages. Агрегат:
// сессия оформления или заказ. События агрегата выдаются в порядке постановки.
// Интерфейс без ctx, поэтому каждая операция ограничена opTimeout.
type outboxStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ domain.OutboxRepository = (*outboxStore)(nil)

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxStore{db: store.DB(), now: time.Now}
}

func (s *outboxStore) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	const q = `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	if _, err := s.db.ExecContext(ctx, q, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType,
		payload, outboxPending, s.now().UTC()); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s %q: %w", msg.EventType, msg.AggregateType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending выдаёт до limit событий: не больше maxPerAggregate на агрегат,
// внутри агрегата в порядке постановки.
func (s *outboxStore) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	const q = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM (
			SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at,
			       row_number() OVER (PARTITION BY aggregate_type, aggregate_id ORDER BY created_at, id) AS seq
			FROM outbox_messages
			WHERE status = $1
		) ranked
		WHERE seq <= $2
		ORDER BY created_at, id
		LIMIT $3`
	rows, err := s.db.QueryContext(ctx, q, outboxPending, maxPerAggregate, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending checkout events: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan checkout event: %w", err)
		}
		batch = append(batch, msg)
	}
	return batch, rows.Err()
}

// Stats: backlog, число агрегатов с недоставленными событиями и возраст самого старого.
func (s *outboxStore) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	const q = `
		SELECT count(*), count(DISTINCT (aggregate_type, aggregate_id)), min(created_at)
		FROM outbox_messages
		WHERE status = $1`
	if err := s.db.QueryRowContext(ctx, q, outboxPending).Scan(&stats.PendingCount, &stats.PendingAggregates, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("checkout events backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (s *outboxStore) MarkSent(id string) error {
	return s.settle(id, outboxSent)
}

func (s *outboxStore) MarkFailed(id string) error {
	return s.settle(id, outboxFailed)
}

// settle закрывает pending-событие; повторно закрыть уже доставленное нельзя.
func (s *outboxStore) settle(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	const q = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = $4`
	res, err := s.db.ExecContext(ctx, q, id, status, s.now().UTC(), outboxPending)
	if err != nil {
		return fmt.Errorf("mark checkout event %s as %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark checkout event %s: %w", id, err)
	} else if n == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}
