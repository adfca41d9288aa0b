// Package janitor удаляет записи с истёкшим TTL: брошенные pending orders (вкладка
// закрыта на странице шлюза) и отработанные ключи идемпотентности.
package janitor

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
	defaultTarget    = "ledger"
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sweep_runs_total",
		Help: "Total number of expiry sweeps grouped by target and result.",
	}, []string{"target", "result"})
	sweepDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sweep_deleted_total",
		Help: "Total number of expired records removed, by target.",
	}, []string{"target"})
	sweepLastDeleted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "checkout_sweep_last_deleted",
		Help: "Number of expired records removed during the last sweep, by target.",
	}, []string{"target"})
)

// Options задаёт параметры воркера.
type Options struct {
	Logger *log.Entry
	// Target: имя очищаемого хранилища в метриках и логах.
	Target    string
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTarget задаёт имя очищаемого хранилища.
func WithTarget(target string) Option {
	return func(opts *Options) {
		opts.Target = target
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер порции одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Worker периодически чистит хранилище порциями.
type Worker struct {
	ledger    domain.LedgerJanitor
	target    string
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт воркер очистки; по умолчанию target = "ledger".
func NewWorker(ledger domain.LedgerJanitor, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Target == "" {
		opts.Target = defaultTarget
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", opts.Target+"-janitor")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Worker{
		ledger:    ledger,
		target:    opts.Target,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.ledger == nil {
		w.logger.WithField("target", w.target).Warn("janitor is disabled: storage does not support sweeping")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	deleted, err := w.Sweep(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweepRunsTotal.WithLabelValues(w.target, "error").Inc()
		w.logger.WithError(err).WithField("target", w.target).Warn("sweep failed")
		return
	}

	sweepRunsTotal.WithLabelValues(w.target, "ok").Inc()
	sweepLastDeleted.WithLabelValues(w.target).Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithFields(log.Fields{"target": w.target, "deleted": deleted}).Info("expired records removed")
	}
}

// Sweep удаляет записи с истёкшим TTL порциями batchSize.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	before := w.now().UTC()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.ledger.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			sweepDeletedTotal.WithLabelValues(w.target).Add(float64(deleted))
		}
		if deleted < w.batchSize {
			break
		}
	}

	return total, nil
}
