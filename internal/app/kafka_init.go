package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

type eventPublishers struct {
	producer   *kafka.Producer
	events     domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
}

// initKafka поднимает producer, если брокеры заданы. Ошибка подключения не
// останавливает сервис: события копятся в outbox до следующего запуска.
func initKafka(cfg Config, logger *log.Entry) *eventPublishers {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not set, checkout events stay in the outbox")
		return nil
	}

	producer, err := kafka.NewProducer(brokers, version.ClientID(), logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return &eventPublishers{
		producer:   producer,
		events:     kafka.NewTopicPublisher(producer, cfg.KafkaTopic),
		deadLetter: kafka.NewTopicPublisher(producer, kafka.TopicDeadLetter),
	}
}

func closeKafka(p *eventPublishers, logger *log.Entry) {
	if p == nil {
		return
	}
	if err := p.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// logPublisher подтверждает события без брокера, чтобы outbox не рос без ограничений.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(msg domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event":        kafka.EventName(msg.EventType),
		"aggregate_id": msg.AggregateID,
	}).Debug("checkout event acknowledged without broker")
	return nil
}

func newDeliveryWorker(cfg Config, storage *runtimeDependencies, publishers *eventPublishers, logger *log.Entry) *outbox.Worker {
	opts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "checkout-outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if publishers == nil {
		return outbox.NewWorker(storage.outbox, logPublisher{logger: logger.WithField("component", "event-log")}, opts...)
	}
	opts = append(opts, outbox.WithDeadLetter(publishers.deadLetter))
	return outbox.NewWorker(storage.outbox, publishers.events, opts...)
}
