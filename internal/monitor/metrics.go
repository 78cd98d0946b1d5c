package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the registry and the error
// streaming path.
type Metrics struct {
	Registry *prometheus.Registry

	CreatesTotal       *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	GetsTotal          *prometheus.CounterVec
	GraftSizeBytes     prometheus.Histogram

	ErrorAppendsTotal  *prometheus.CounterVec
	ActiveStreams      prometheus.Gauge
	StreamsTotal       *prometheus.CounterVec
	RecordsStreamed    prometheus.Counter
	StoreReadLatency   prometheus.Histogram
	RequestsInFlight   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		CreatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xyz",
				Name:      "creates_total",
				Help:      "Total CreateXYZ calls by outcome (created, deduplicated, rejected, error).",
			},
			[]string{"outcome"},
		),

		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xyz",
				Name:      "validation_failures_total",
				Help:      "Total draft rejections by validation reason.",
			},
			[]string{"reason"},
		),

		GetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xyz",
				Name:      "gets_total",
				Help:      "Total GetXYZ calls by outcome (ok, not_found, error).",
			},
			[]string{"outcome"},
		),

		GraftSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "xyz",
				Name:      "graft_size_bytes",
				Help:      "Size of submitted serialized grafts in bytes.",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
		),

		ErrorAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xyz",
				Subsystem: "errlog",
				Name:      "appends_total",
				Help:      "Total error records ingested by code.",
			},
			[]string{"code"},
		),

		ActiveStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "xyz",
				Subsystem: "errlog",
				Name:      "active_streams",
				Help:      "Number of currently open session error streams.",
			},
		),

		StreamsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xyz",
				Subsystem: "errlog",
				Name:      "streams_total",
				Help:      "Total session error streams by terminal state (completed, cancelled, failed, not_found).",
			},
			[]string{"state"},
		),

		RecordsStreamed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "xyz",
				Subsystem: "errlog",
				Name:      "records_streamed_total",
				Help:      "Total error records delivered to stream consumers.",
			},
		),

		StoreReadLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "xyz",
				Name:      "store_read_duration_seconds",
				Help:      "Duration of definition and ledger reads against the store.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "xyz",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.CreatesTotal,
		m.ValidationFailures,
		m.GetsTotal,
		m.GraftSizeBytes,
		m.ErrorAppendsTotal,
		m.ActiveStreams,
		m.StreamsTotal,
		m.RecordsStreamed,
		m.StoreReadLatency,
		m.RequestsInFlight,
	)

	return m
}

// RecordCreate records a CreateXYZ outcome.
func (m *Metrics) RecordCreate(outcome string) {
	m.CreatesTotal.WithLabelValues(outcome).Inc()
}

// RecordValidationFailure records a draft rejection by reason.
func (m *Metrics) RecordValidationFailure(reason string) {
	m.ValidationFailures.WithLabelValues(reason).Inc()
}

// RecordStream records a stream reaching a terminal state.
func (m *Metrics) RecordStream(state string) {
	m.StreamsTotal.WithLabelValues(state).Inc()
}
