package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects per-processor cycle instrumentation on a private registry.
// The engine has no HTTP surface; the embedding binary decides whether and
// where to expose the registry.
type Metrics struct {
	registry *prometheus.Registry

	cycleDuration *prometheus.HistogramVec
	cycleErrors   *prometheus.CounterVec
	blockErrors   *prometheus.CounterVec
}

// NewMetrics makes a metrics set on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fieldline",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one processor cycle",
		Buckets:   prometheus.DefBuckets,
	}, []string{"processor"})

	m.cycleErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldline",
		Name:      "cycle_errors_total",
		Help:      "Cycles that failed at the cycle boundary",
	}, []string{"processor"})

	m.blockErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldline",
		Name:      "block_errors_total",
		Help:      "Per-block failures isolated inside a cycle",
	}, []string{"processor"})

	m.registry.MustRegister(m.cycleDuration, m.cycleErrors, m.blockErrors)
	return m
}

// Registry returns the underlying prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records one cycle's duration
func (m *Metrics) ObserveCycle(processor string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(processor).Observe(duration.Seconds())
}

// IncCycleError counts a cycle-boundary failure
func (m *Metrics) IncCycleError(processor string) {
	if m == nil {
		return
	}
	m.cycleErrors.WithLabelValues(processor).Inc()
}

// IncBlockError counts an isolated per-block failure
func (m *Metrics) IncBlockError(processor string) {
	if m == nil {
		return
	}
	m.blockErrors.WithLabelValues(processor).Inc()
}
