// Package metrics provides Prometheus metrics for the analysis engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shadow"

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	// Trigger metrics
	TriggersTotal        prometheus.Counter
	TriggersIgnored      prometheus.Counter
	CyclesSuperseded     prometheus.Counter
	PreconditionFailures *prometheus.CounterVec

	// Fast path metrics
	FirstByteLatency prometheus.Histogram
	FastPathDuration prometheus.Histogram
	DecodeErrors     *prometheus.CounterVec

	// Persistence metrics
	PersistDuration prometheus.Histogram
	PersistInFlight prometheus.Gauge

	// Output metrics
	RetentionEvictions prometheus.Counter
	RetentionErrors    prometheus.Counter

	// Control channel metrics
	Reconnects prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TriggersTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Total number of trigger events received from the player",
		}),
		TriggersIgnored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_ignored_total",
			Help:      "Triggers ignored while trigger handling was paused",
		}),
		CyclesSuperseded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_superseded_total",
			Help:      "Cycles whose fast path was superseded by a newer trigger",
		}),
		PreconditionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precondition_failures_total",
			Help:      "Cycles aborted before any subprocess was spawned",
		}, []string{"reason"}),

		FirstByteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_byte_latency_seconds",
			Help:      "Time from analysis decoder spawn to first decoded sample",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2},
		}),
		FastPathDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fast_path_duration_seconds",
			Help:      "Time from trigger to published analysis result",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
		}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Decoder subprocess failures and timeouts",
		}, []string{"stream"}),

		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Duration of persistence decodes",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		PersistInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persist_in_flight",
			Help:      "Persistence decodes currently running",
		}),

		RetentionEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_evictions_total",
			Help:      "Historical artifacts deleted by retention",
		}),
		RetentionErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_errors_total",
			Help:      "Retention deletions or renames that failed",
		}),

		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_reconnects_total",
			Help:      "Reconnections to the player control channel",
		}),
	}
}

// RecordPrecondition records a cycle aborted before spawning any decoder.
func (m *Metrics) RecordPrecondition(reason string) {
	m.PreconditionFailures.WithLabelValues(reason).Inc()
}

// RecordDecodeError records a failed or timed-out decoder for one stream kind.
func (m *Metrics) RecordDecodeError(stream string) {
	m.DecodeErrors.WithLabelValues(stream).Inc()
}

// RecordPersistStart marks a persistence decode as running.
func (m *Metrics) RecordPersistStart() {
	m.PersistInFlight.Inc()
}

// RecordPersistEnd marks a persistence decode as finished.
func (m *Metrics) RecordPersistEnd(durationSeconds float64) {
	m.PersistInFlight.Dec()
	m.PersistDuration.Observe(durationSeconds)
}
