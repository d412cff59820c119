package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disaster_ingest"

// Metrics holds the Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	EventsParsed   *prometheus.CounterVec   // labels: feed
	Upserts        *prometheus.CounterVec   // labels: feed, outcome={new,updated,unchanged,error}
	HistoryWrites  prometheus.Counter
	FetchDuration  *prometheus.HistogramVec // labels: feed
	FetchFailures  *prometheus.CounterVec   // labels: feed
	RunDuration    *prometheus.HistogramVec // labels: feed
	ClustersActive prometheus.Gauge
	PublishErrors  prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		EventsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_parsed_total",
			Help:      "Canonical events produced by source parsers.",
		}, []string{"feed"}),
		Upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upserts_total",
			Help:      "Disaster upserts by feed and outcome.",
		}, []string{"feed", "outcome"}),
		HistoryWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "severity_changes_total",
			Help:      "History rows appended for severity transitions.",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Upstream feed download duration.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"feed"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Upstream fetches that failed or returned non-2xx.",
		}, []string{"feed"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of one fetch-parse-upsert run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"feed"}),
		ClustersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wildfire_clusters",
			Help:      "Clusters produced by the last recompute.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Change events that could not be published.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.EventsParsed,
		m.Upserts,
		m.HistoryWrites,
		m.FetchDuration,
		m.FetchFailures,
		m.RunDuration,
		m.ClustersActive,
		m.PublishErrors,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting registers with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(reg), reg
}
