package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления заказа. Методы безопасно вызывать на nil.
type CheckoutMetrics struct {
	// Переходы автомата
	transitions *prometheus.CounterVec

	// Результаты оплаты и сверки
	paymentOutcomes *prometheus.CounterVec
	reconcile       *prometheus.CounterVec

	addressSaveAttempts *prometheus.CounterVec

	stepDuration *prometheus.HistogramVec

	lifecycleEvents prometheus.Counter
	activeCheckouts prometheus.Gauge
	breakerState    *prometheus.GaugeVec
}

// NewCheckoutMetrics регистрирует метрики в default registry.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном registerer;
// повторная регистрация возвращает уже существующие коллекторы.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_transitions_total",
			Help: "Total number of checkout state machine transitions",
		}, []string{"from", "to"}),
		paymentOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_payment_outcomes_total",
			Help: "Total number of payment initiations grouped by method and outcome",
		}, []string{"method", "outcome"}),
		reconcile: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_reconcile_total",
			Help: "Total number of gateway return reconciliations grouped by result",
		}, []string{"result"}),
		addressSaveAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_address_save_attempts_total",
			Help: "Total number of address save attempts grouped by result",
		}, []string{"result"}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		lifecycleEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_lifecycle_events_total",
			Help: "Total number of checkout lifecycle events enqueued to the outbox",
		}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active_sessions",
			Help: "Number of checkout sessions with a live state machine",
		}),
		breakerState: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "checkout_gateway_breaker_state",
			Help: "Payment gateway circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"breaker"}),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, name string, collector C) C {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register[prometheus.Counter](registerer, opts.Name, prometheus.NewCounter(opts))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register[prometheus.Gauge](registerer, opts.Name, prometheus.NewGauge(opts))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	return register(registerer, opts.Name, prometheus.NewGaugeVec(opts, labels))
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(registerer, opts.Name, prometheus.NewHistogramVec(opts, labels))
}

// RecordTransition учитывает переход автомата.
func (m *CheckoutMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordPaymentOutcome учитывает результат Initiate.
func (m *CheckoutMetrics) RecordPaymentOutcome(method, outcome string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(method, outcome).Inc()
}

// RecordReconcile учитывает результат сверки возврата.
func (m *CheckoutMetrics) RecordReconcile(result string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(result).Inc()
}

// RecordAddressSaveAttempt учитывает одну попытку сохранения адреса.
func (m *CheckoutMetrics) RecordAddressSaveAttempt(result string) {
	if m == nil {
		return
	}
	m.addressSaveAttempts.WithLabelValues(result).Inc()
}

// RecordStepDuration записывает время выполнения шага.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordLifecycleEvent увеличивает счётчик событий в outbox.
func (m *CheckoutMetrics) RecordLifecycleEvent() {
	if m == nil {
		return
	}
	m.lifecycleEvents.Inc()
}

// RecordSessionStarted увеличивает число живых автоматов.
func (m *CheckoutMetrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.activeCheckouts.Inc()
}

// RecordSessionFinished уменьшает число живых автоматов.
func (m *CheckoutMetrics) RecordSessionFinished() {
	if m == nil {
		return
	}
	m.activeCheckouts.Dec()
}

// RecordBreakerState выставляет состояние circuit breaker шлюза.
func (m *CheckoutMetrics) RecordBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(breaker).Set(float64(state))
}
