package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for batch uploads.
type Metrics struct {
	config MetricsConfig

	// Batch metrics
	batchesCompleted *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	activeBatches    prometheus.Gauge

	// Unit metrics
	unitsCompleted *prometheus.CounterVec
	unitDuration   prometheus.Histogram
	unitsInFlight  prometheus.Gauge

	// Stage metrics
	stagesCompleted *prometheus.CounterVec

	// Discovery metrics
	discoveryAttempts prometheus.Histogram
	discoveryListings *prometheus.CounterVec

	// Engine call metrics
	engineCalls    *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	engineErrors   *prometheus.CounterVec

	// Request metrics
	rejectedUploads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		batchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_completed_total",
				Help:      "Total number of batches completed by outcome",
			},
			[]string{"status"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch execution in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"status"},
		),
		activeBatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_batches",
				Help:      "Current number of running batches",
			},
		),

		unitsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_completed_total",
				Help:      "Total number of work units processed",
			},
			[]string{"status", "succeeded"},
		),
		unitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Duration of work unit processing in seconds",
				Buckets:   buckets,
			},
		),
		unitsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "units_in_flight",
				Help:      "Current number of work units being processed",
			},
		),

		stagesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_completed_total",
				Help:      "Total number of stages by outcome",
			},
			[]string{"stage", "status"},
		),

		discoveryAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discovery_attempts",
				Help:      "Number of listings needed to resolve a stage task",
				Buckets:   prometheus.LinearBuckets(1, 2, 10),
			},
		),
		discoveryListings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_listings_total",
				Help:      "Total number of task listings by result",
			},
			[]string{"result"},
		),

		engineCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_calls_total",
				Help:      "Total number of process engine calls",
			},
			[]string{"operation"},
		),
		engineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_call_duration_seconds",
				Help:      "Duration of process engine calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		engineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_errors_total",
				Help:      "Total number of failed process engine calls",
			},
			[]string{"operation", "class"},
		),

		rejectedUploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_uploads_total",
				Help:      "Total number of uploads rejected before any engine call",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.batchesCompleted,
		m.batchDuration,
		m.activeBatches,
		m.unitsCompleted,
		m.unitDuration,
		m.unitsInFlight,
		m.stagesCompleted,
		m.discoveryAttempts,
		m.discoveryListings,
		m.engineCalls,
		m.engineDuration,
		m.engineErrors,
		m.rejectedUploads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// Batch Metrics

// RecordBatchStarted marks a batch as running.
func (m *Metrics) RecordBatchStarted() {
	if m.activeBatches == nil {
		return
	}
	m.activeBatches.Inc()
}

// RecordBatchCompleted records a finished batch with its outcome and duration.
func (m *Metrics) RecordBatchCompleted(status string, duration time.Duration) {
	if m.batchesCompleted == nil {
		return
	}
	m.batchesCompleted.WithLabelValues(status).Inc()
	m.batchDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeBatches.Dec()
}

// Unit Metrics

// RecordUnitStarted marks a unit as in flight.
func (m *Metrics) RecordUnitStarted() {
	if m.unitsInFlight == nil {
		return
	}
	m.unitsInFlight.Inc()
}

// RecordUnitCompleted records a processed unit.
func (m *Metrics) RecordUnitCompleted(status string, succeeded bool, duration time.Duration) {
	if m.unitsCompleted == nil {
		return
	}
	label := "false"
	if succeeded {
		label = "true"
	}
	m.unitsCompleted.WithLabelValues(status, label).Inc()
	m.unitDuration.Observe(duration.Seconds())
	m.unitsInFlight.Dec()
}

// Stage Metrics

// RecordStage records a stage outcome.
func (m *Metrics) RecordStage(stage, status string, attempts int) {
	if m.stagesCompleted == nil {
		return
	}
	m.stagesCompleted.WithLabelValues(stage, status).Inc()
	if attempts > 0 {
		m.discoveryAttempts.Observe(float64(attempts))
	}
}

// RecordDiscoveryListing records one poller listing: "match", "miss" or "error".
func (m *Metrics) RecordDiscoveryListing(result string) {
	if m.discoveryListings == nil {
		return
	}
	m.discoveryListings.WithLabelValues(result).Inc()
}

// Engine Metrics

// RecordEngineCall records a process engine call with its duration.
func (m *Metrics) RecordEngineCall(operation string, duration time.Duration) {
	if m.engineCalls == nil {
		return
	}
	m.engineCalls.WithLabelValues(operation).Inc()
	m.engineDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEngineError records a failed process engine call.
func (m *Metrics) RecordEngineError(operation, class string) {
	if m.engineErrors == nil {
		return
	}
	m.engineErrors.WithLabelValues(operation, class).Inc()
}

// RecordRejectedUpload records an upload refused before processing.
func (m *Metrics) RecordRejectedUpload(code string) {
	if m.rejectedUploads == nil {
		return
	}
	m.rejectedUploads.WithLabelValues(code).Inc()
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
