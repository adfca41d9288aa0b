package kafka

import "github.com/vladislavdragonenkov/checkout/internal/domain"

// Топики checkout.
const (
	TopicCheckoutEvents = "checkout.events"
	TopicDeadLetter     = "checkout.events.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventName     = "x-event-name"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

var eventNames = map[string]string{
	domain.EventCheckoutStarted:        "checkout.started",
	domain.EventCheckoutPaymentFailed:  "checkout.failed",
	domain.EventCheckoutRedirected:     "checkout.redirected",
	domain.EventCheckoutCompleted:      "checkout.completed",
	domain.EventCheckoutReconcileError: "checkout.reconcile_failed",
	domain.EventOrderCreated:           "order.created",
}

// EventName возвращает имя события для брокера. Неизвестные типы передаются как есть.
func EventName(eventType string) string {
	if name, ok := eventNames[eventType]; ok {
		return name
	}
	return eventType
}
