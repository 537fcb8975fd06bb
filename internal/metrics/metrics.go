// Package metrics exposes Prometheus collectors for the mirror service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	trackerFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_tracker_fetches_total",
			Help: "Total number of tracker requests, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	entriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_entries_total",
			Help: "Total number of entry imports, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	categoriesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_categories_created_total",
			Help: "Total number of categories created by reconciliation.",
		},
	)

	artifactsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_artifacts_published_total",
			Help: "Total number of artifacts written to the object store, labeled by kind.",
		},
		[]string{"kind"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_jobs_total",
			Help: "Total number of jobs processed, labeled by name and status.",
		},
		[]string{"name", "status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_active_workers",
			Help: "Number of workers currently processing a job.",
		},
	)

	throttleDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_throttle_delay_seconds",
			Help:    "Histogram of time spent waiting on the per-host rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one tracker request.
func ObserveFetch(kind, outcome string) {
	trackerFetchesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveEntry counts one entry import outcome (imported, skipped, failed).
func ObserveEntry(outcome string) {
	entriesTotal.WithLabelValues(outcome).Inc()
}

// AddCategoriesCreated counts newly created categories.
func AddCategoriesCreated(n int) {
	if n > 0 {
		categoriesCreatedTotal.Add(float64(n))
	}
}

// ObserveArtifact counts one published artifact.
func ObserveArtifact(kind string) {
	artifactsPublishedTotal.WithLabelValues(kind).Inc()
}

// ObserveJob counts a finished job.
func ObserveJob(name, status string) {
	jobsTotal.WithLabelValues(name, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveThrottle records how long a request waited for the rate limiter.
func ObserveThrottle(host string, waited time.Duration) {
	throttleDelaySeconds.WithLabelValues(host).Observe(waited.Seconds())
}
