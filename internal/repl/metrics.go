package repl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the execution engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Executions        *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsEvicted   prometheus.Counter
	OutputTruncations prometheus.Counter
}

// NewMetrics registers the engine metrics on reg. Returns nil when reg is
// nil so callers can wire metrics optionally.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "repl",
			Name:      "executions_total",
			Help:      "Code executions by outcome.",
		}, []string{"outcome"}),
		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "repl",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of code executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sanduku",
			Subsystem: "repl",
			Name:      "active_sessions",
			Help:      "Number of live interpreter sessions.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "repl",
			Name:      "sessions_created_total",
			Help:      "Sessions created since start.",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "repl",
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by TTL eviction.",
		}),
		OutputTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "repl",
			Name:      "output_truncations_total",
			Help:      "Executions whose stdout or stderr hit the output cap.",
		}),
	}
	reg.MustRegister(
		m.Executions,
		m.ExecutionDuration,
		m.ActiveSessions,
		m.SessionsCreated,
		m.SessionsEvicted,
		m.OutputTruncations,
	)
	return m
}

// RecordExecution counts one execution and observes its duration.
func (m *Metrics) RecordExecution(outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(string(outcome)).Inc()
	m.ExecutionDuration.Observe(elapsed.Seconds())
}
