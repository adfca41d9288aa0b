package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// TimelineRepository хранит историю переходов сессий в памяти (разработка и тесты).
type TimelineRepository struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)

// NewTimelineRepository создаёт in-memory TimelineRepository.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{events: make(map[string][]domain.TimelineEvent)}
}

// Append добавляет события; порядок внутри сессии поддерживается по времени.
func (r *TimelineRepository) Append(_ context.Context, events ...domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make(map[string]struct{}, 1)
	for _, event := range events {
		if event.SessionID == "" {
			return domain.ErrSessionRequired
		}
		r.events[event.SessionID] = append(r.events[event.SessionID], event)
		touched[event.SessionID] = struct{}{}
	}
	for sessionID := range touched {
		list := r.events[sessionID]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Occurred.Before(list[j].Occurred)
		})
	}
	return nil
}

// List возвращает события сессии в хронологическом порядке.
func (r *TimelineRepository) List(_ context.Context, sessionID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[sessionID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}
