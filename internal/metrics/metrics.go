package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "autograder"
)

// Metrics exposes Prometheus collectors for vendor calls, grading outcomes,
// retries, backend switches and run progress. A nil *Metrics is a no-op.
type Metrics struct {
	callDuration *prometheus.HistogramVec
	outcomes     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	switches     *prometheus.CounterVec
	completed    prometheus.Gauge
	total        prometheus.Gauge
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns metrics registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg, reusing collectors that are
// already registered under the same name. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "call_duration_seconds",
				Help:      "Duration of vendor calls by provider and outcome.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
			},
			[]string{"provider", "outcome"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grading",
				Name:      "outcomes_total",
				Help:      "Classified grading outcomes by backend.",
			},
			[]string{"backend", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Retried operations by error kind.",
			},
			[]string{"operation", "kind"},
		),
		switches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "failover",
				Name:      "switches_total",
				Help:      "Backend switches.",
			},
			[]string{"from", "to"},
		),
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "cycles_completed",
			Help:      "Cycles completed in the current run.",
		}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "cycles_total",
			Help:      "Cycles planned for the current run.",
		}),
	}

	m.callDuration = register(reg, m.callDuration)
	m.outcomes = register(reg, m.outcomes)
	m.retries = register(reg, m.retries)
	m.switches = register(reg, m.switches)
	m.completed = register(reg, m.completed)
	m.total = register(reg, m.total)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveCall records one finished vendor call.
func (m *Metrics) ObserveCall(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}

// ObserveOutcome counts a classified outcome.
func (m *Metrics) ObserveOutcome(backend, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) ObserveSwitch(from, to string) {
	if m == nil {
		return
	}
	m.switches.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveRetry(operation, kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation, kind).Inc()
}

// SetProgress publishes run progress.
func (m *Metrics) SetProgress(done, total int) {
	if m == nil {
		return
	}
	m.completed.Set(float64(done))
	m.total.Set(float64(total))
}
