// Package telemetry exposes retrieval pipeline metrics in Prometheus format.
// Metrics are kept in a private registry; nothing is reported externally
// unless the caller serves Handler().
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "amanrank"

// Query outcomes
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Metrics records pipeline activity. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	stageDuration   *prometheus.HistogramVec
	stageErrors     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	zeroResultTotal prometheus.Counter
}

// NewMetrics creates metrics registered in a fresh registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry registers the metrics in reg.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Retrieve calls by outcome.",
		},
		[]string{"outcome"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end Retrieve latency by outcome.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Per-stage latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	stageErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "errors_total",
			Help:      "Per-stage failures that degraded a query.",
		},
		[]string{"stage"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by result.",
		},
		[]string{"result"},
	)
	zeroResultTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zero_result_queries_total",
			Help:      "Queries that returned no documents.",
		},
	)

	reg.MustRegister(queriesTotal, queryDuration, stageDuration, stageErrors, cacheLookups, zeroResultTotal)

	return &Metrics{
		registry:        reg,
		queriesTotal:    queriesTotal,
		queryDuration:   queryDuration,
		stageDuration:   stageDuration,
		stageErrors:     stageErrors,
		cacheLookups:    cacheLookups,
		zeroResultTotal: zeroResultTotal,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveQuery records one completed Retrieve call.
func (m *Metrics) ObserveQuery(outcome string, resultCount int, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if resultCount == 0 && outcome != OutcomeError {
		m.zeroResultTotal.Inc()
	}
}

// ObserveStage records one stage execution and its failure, if any.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// CacheLookup records a result cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := OutcomeMiss
	if hit {
		result = OutcomeHit
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
