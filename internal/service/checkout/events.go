package checkout

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// eventEmitter ставит события жизненного цикла оформления в outbox.
type eventEmitter struct {
	outbox  domain.OutboxRepository
	metrics *metrics.CheckoutMetrics
	logger  *log.Entry
}

func (e *eventEmitter) emit(event domain.CheckoutEvent) {
	if e == nil || e.outbox == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"session_id": event.SessionID,
			"event":      event.Type,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "checkout",
		AggregateID:   event.SessionID,
		EventType:     event.Type,
		Payload:       data,
	}
	if _, err := e.outbox.Enqueue(msg); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"session_id": event.SessionID,
			"event":      event.Type,
		}).Error("enqueue event failed")
		return
	}
	e.metrics.RecordLifecycleEvent()
}
