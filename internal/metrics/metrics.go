// Package metrics exposes pipeline counters and latencies for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adgmcheck"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	excluded *prometheus.CounterVec
	degraded *prometheus.CounterVec
	advisory prometheus.Histogram
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished analysis runs by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of analysis runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"status"}),
		excluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_excluded_total",
			Help:      "Documents dropped from a run by reason.",
		}, []string{"reason"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisory_degraded_total",
			Help:      "Documents checked with rules only because advisory analysis was unavailable.",
		}, []string{"reason"}),
		advisory: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "advisory_call_seconds",
			Help:      "Latency of advisory critic calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}),
	}
	m.registry.MustRegister(
		m.runs, m.duration, m.excluded, m.degraded, m.advisory,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RunFinished records a finished run.
func (m *Metrics) RunFinished(status string, elapsed time.Duration) {
	m.runs.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// DocumentExcluded records a document dropped from a run.
func (m *Metrics) DocumentExcluded(reason string) {
	m.excluded.WithLabelValues(reason).Inc()
}

// AdvisoryDegraded records a document that fell back to rule-only checks.
func (m *Metrics) AdvisoryDegraded(reason string) {
	m.degraded.WithLabelValues(reason).Inc()
}

// AdvisoryLatency observes advisory call durations in seconds.
func (m *Metrics) AdvisoryLatency() prometheus.Observer {
	return m.advisory
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
