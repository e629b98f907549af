// Package telemetry exposes the pipeline's own operational counters
// through a private Prometheus registry.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/sage/internal/model"
)

const (
	namespace = "sage"
	subsystem = "pipeline"
)

// Metrics is the Prometheus-backed model.PipelineMetrics implementation.
// All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested     *prometheus.CounterVec
	eventsRejected     *prometheus.CounterVec
	alertsRaised       *prometheus.CounterVec
	snapshotsGenerated prometheus.Counter
	aggregationErrors  prometheus.Counter
	stateFailures      prometheus.Counter
	eventProcessing    prometheus.Histogram
	streamSamples      *prometheus.GaugeVec
}

var _ model.PipelineMetrics = (*Metrics)(nil)

// New builds a Metrics with every collector registered on its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_ingested_total",
		Help:      "Log events accepted from a source",
	}, []string{"source"})

	m.eventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_rejected_total",
		Help:      "Log events dropped before classification",
	}, []string{"reason"})

	m.alertsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "alerts_raised_total",
		Help:      "Rate threshold alerts raised",
	}, []string{"metric"})

	m.snapshotsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "snapshots_generated_total",
		Help:      "Insight snapshots generated",
	})

	m.aggregationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "aggregation_errors_total",
		Help:      "Aggregation computations that returned an error",
	})

	m.stateFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "state_failures_total",
		Help:      "Scheduler state reads or writes that failed",
	})

	m.eventProcessing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "event_processing_seconds",
		Help:      "Wall time spent classifying and aggregating one event",
		// One microsecond up to roughly a quarter second.
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	})

	m.streamSamples = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stream_samples",
		Help:      "Samples currently held per metric stream",
	}, []string{"metric"})

	m.registry.MustRegister(
		m.eventsIngested,
		m.eventsRejected,
		m.alertsRaised,
		m.snapshotsGenerated,
		m.aggregationErrors,
		m.stateFailures,
		m.eventProcessing,
		m.streamSamples,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) IncEventsIngested(source string) {
	m.eventsIngested.WithLabelValues(source).Inc()
}

func (m *Metrics) IncEventsRejected(reason string) {
	m.eventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAlertsRaised(metric string) {
	m.alertsRaised.WithLabelValues(metric).Inc()
}

func (m *Metrics) IncSnapshotsGenerated() {
	m.snapshotsGenerated.Inc()
}

func (m *Metrics) IncAggregationErrors() {
	m.aggregationErrors.Inc()
}

func (m *Metrics) IncStateFailures() {
	m.stateFailures.Inc()
}

func (m *Metrics) ObserveEventProcessing(d time.Duration) {
	m.eventProcessing.Observe(d.Seconds())
}

func (m *Metrics) SetStreamSamples(metric string, n int) {
	m.streamSamples.WithLabelValues(metric).Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
