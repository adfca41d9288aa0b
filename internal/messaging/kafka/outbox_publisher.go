package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka publisher is not initialized")

// envelope: формат сообщения в топике checkout.
type envelope struct {
	ID            string          `json:"id"`
	Event         string          `json:"event"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// TopicPublisher публикует outbox-сообщения checkout в Kafka topic.
type TopicPublisher struct {
	producer *Producer
	topic    string
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)

// NewTopicPublisher создаёт паблишер; пустой topic означает checkout.events.
func NewTopicPublisher(producer *Producer, topic string) *TopicPublisher {
	if topic == "" {
		topic = TopicCheckoutEvents
	}
	return &TopicPublisher{producer: producer, topic: topic}
}

// Publish отправляет событие с ключом по агрегату, чтобы события одной сессии шли в одну партицию.
func (p *TopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	name := EventName(msg.EventType)
	body, err := json.Marshal(envelope{
		ID:            msg.ID,
		Event:         name,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		Payload:       payload,
		PublishedAt:   p.producer.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	return p.producer.Send(p.topic, key, body, map[string]string{
		HeaderEventName:     name,
		HeaderAggregateType: msg.AggregateType,
		HeaderOutboxID:      msg.ID,
	})
}
