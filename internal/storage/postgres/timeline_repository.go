package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// TimelineRepository: таблица checkout_timeline, аудит переходов сессий оформления.
type TimelineRepository struct {
	db *sql.DB
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{db: store.DB()}
}

// Append записывает события одной транзакцией.
func (r *TimelineRepository) Append(ctx context.Context, events ...domain.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin timeline tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, event := range events {
		if event.SessionID == "" {
			return domain.ErrSessionRequired
		}
		if event.Occurred.IsZero() {
			event.Occurred = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkout_timeline (session_id, from_status, to_status, reason, occurred)
			VALUES ($1, $2, $3, $4, $5)
		`, event.SessionID, string(event.From), string(event.To), event.Reason, event.Occurred); err != nil {
			return fmt.Errorf("append timeline event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit timeline tx: %w", err)
	}
	return nil
}

// List возвращает события сессии в хронологическом порядке.
func (r *TimelineRepository) List(ctx context.Context, sessionID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, from_status, to_status, reason, occurred
		FROM checkout_timeline
		WHERE session_id = $1
		ORDER BY occurred, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var (
			event    domain.TimelineEvent
			from, to string
		)
		if err := rows.Scan(&event.SessionID, &from, &to, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.From = domain.CheckoutStatus(from)
		event.To = domain.CheckoutStatus(to)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}
