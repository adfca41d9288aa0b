package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultBatchSize      = 50
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	deliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outbox_delivery_attempts_total",
		Help: "Checkout event delivery attempts grouped by result.",
	}, []string{"result"})
	deliveryBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_backlog",
		Help: "Checkout events waiting for delivery.",
	})
	deliveryBacklogAggregates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_backlog_aggregates",
		Help: "Checkout sessions and orders with undelivered events.",
	})
	deliveryLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_lag_seconds",
		Help: "Age of the oldest undelivered checkout event.",
	})
)

// Options задаёт параметры доставщика событий.
type Options struct {
	Logger         *log.Entry
	DeadLetter     domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Now            func() time.Time
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithDeadLetter задаёт publisher для событий, которые не удалось доставить.
func WithDeadLetter(publisher domain.OutboxPublisher) Option {
	return func(opts *Options) { opts.DeadLetter = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *Options) { opts.PollInterval = interval }
}

// WithBatchSize задаёт размер пачки.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток доставки одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *Options) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовую задержку экспоненциального backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *Options) { opts.RetryBaseDelay = delay }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Report: итог одного прохода.
type Report struct {
	Delivered    int
	Failed       int
	DeadLettered int
}

// Worker доставляет события жизненного цикла checkout и заказов из outbox в брокер.
type Worker struct {
	repo       domain.OutboxRepository
	publisher  domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	logger     *log.Entry
	opts       Options
}

// NewWorker создаёт доставщика событий.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := Options{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
		Now:            time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New().WithField("component", "checkout-outbox")
	}

	return &Worker{
		repo:       repo,
		publisher:  publisher,
		deadLetter: opts.DeadLetter,
		logger:     logger,
		opts:       opts,
	}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("event delivery disabled: no outbox or publisher configured")
		return
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce доставляет одну пачку pending-событий в порядке постановки.
func (w *Worker) ProcessOnce(ctx context.Context) Report {
	var report Report
	if ctx.Err() != nil {
		return report
	}

	events, err := w.repo.PullPending(w.opts.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending checkout events")
		return report
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		entry := w.logger.WithFields(log.Fields{
			"outbox_id":      event.ID,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"event_type":     event.EventType,
		})

		if err := w.deliver(ctx, event); err != nil {
			report.Failed++
			deliveryAttempts.WithLabelValues("failed").Inc()
			entry.WithError(err).Error("checkout event delivery failed")

			if dlErr := w.publishDeadLetter(event, err); dlErr != nil {
				deliveryAttempts.WithLabelValues("dead_letter_failed").Inc()
				entry.WithError(dlErr).Warn("failed to dead-letter checkout event")
			} else if w.deadLetter != nil {
				report.DeadLettered++
			}
			if markErr := w.repo.MarkFailed(event.ID); markErr != nil {
				entry.WithError(markErr).Warn("failed to mark checkout event as failed")
			}
			continue
		}

		report.Delivered++
		if err := w.repo.MarkSent(event.ID); err != nil {
			entry.WithError(err).Warn("failed to mark checkout event as delivered")
		}
	}

	w.refreshBacklog()
	return report
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		err := w.publisher.Publish(event)
		if err == nil {
			deliveryAttempts.WithLabelValues("delivered").Inc()
			return nil
		}
		lastErr = err
		deliveryAttempts.WithLabelValues("retry").Inc()

		if attempt == w.opts.MaxAttempts {
			break
		}
		delay := backoff(w.opts.RetryBaseDelay, attempt)
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("deliver after %d attempts: %w", w.opts.MaxAttempts, lastErr)
}

func (w *Worker) refreshBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to read outbox backlog")
		return
	}

	deliveryBacklog.Set(float64(stats.PendingCount))
	deliveryBacklogAggregates.Set(float64(stats.PendingAggregates))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		deliveryLag.Set(0)
		return
	}
	lag := w.opts.Now().Sub(stats.OldestPendingAt).Seconds()
	if lag < 0 {
		lag = 0
	}
	deliveryLag.Set(lag)
}

// backoff удваивает base на каждую попытку после первой, без переполнения.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	const ceiling = time.Duration(1<<63 - 1)
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}

// deadLetterEnvelope: формат события в dead-letter топике.
type deadLetterEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) publishDeadLetter(event domain.OutboxMessage, cause error) error {
	if w.deadLetter == nil {
		return nil
	}

	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(deadLetterEnvelope{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		Error:         cause.Error(),
		FailedAt:      w.opts.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	if err := w.deadLetter.Publish(domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}
