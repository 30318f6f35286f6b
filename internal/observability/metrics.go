// Package observability defines the Prometheus metrics exported by the
// scheduling engine and its HTTP surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marinaops"

// Metrics holds the counters, histograms and gauges for the engine.
type Metrics struct {
	// Evaluation metrics.
	Evaluations      *prometheus.CounterVec   // labels: status={evaluated,no_observation,unavailable}, severity
	ProviderDuration *prometheus.HistogramVec // labels: provider, outcome={found,missing,error}
	ObservationCache *prometheus.CounterVec   // labels: result={hit,miss}

	// Aggregation metrics.
	AggregateDuration prometheus.Histogram
	AggregateTasks    prometheus.Histogram

	// Mutation and sync metrics.
	Reschedules       *prometheus.CounterVec // labels: outcome={moved,noop,invalid,not_found,invalid_state,conflict,error}
	SyncEvents        *prometheus.CounterVec // labels: source, kind
	WeekInvalidations prometheus.Counter
	RulesLoaded       prometheus.Gauge

	// HTTP metrics.
	HTTPRequests *prometheus.CounterVec   // labels: method, route, status
	HTTPDuration *prometheus.HistogramVec // labels: method, route
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      help("Task evaluations by data status and resulting severity."),
		}, []string{"status", "severity"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "weather_provider_duration_seconds",
			Help:      help("Weather provider lookup duration in seconds."),
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"provider", "outcome"}),
		ObservationCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observation_cache_total",
			Help:      help("Observation cache lookups by result."),
		}, []string{"result"}),
		AggregateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_duration_seconds",
			Help:      help("Duration of a full day aggregation pass."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		AggregateTasks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_tasks",
			Help:      help("Number of tasks per aggregation pass."),
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		Reschedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reschedules_total",
			Help:      help("Reschedule commands by outcome."),
		}, []string{"outcome"}),
		SyncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_total",
			Help:      help("Change-feed events applied by the live sync listener."),
		}, []string{"source", "kind"}),
		WeekInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "week_invalidations_total",
			Help:      help("Memoized planning weeks dropped."),
		}),
		RulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_loaded",
			Help:      help("Number of rules in the active rule set."),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      help("HTTP requests by method, route pattern and status."),
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      help("HTTP request latency by method and route pattern."),
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Evaluations,
		m.ProviderDuration,
		m.ObservationCache,
		m.AggregateDuration,
		m.AggregateTasks,
		m.Reschedules,
		m.SyncEvents,
		m.WeekInvalidations,
		m.RulesLoaded,
		m.HTTPRequests,
		m.HTTPDuration,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsWithRegistry registers all metrics with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := newMetrics(true)
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered metrics so tests can build as
// many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
