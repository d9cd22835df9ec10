// Package metrics exposes Prometheus collectors for the screenshot
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     prometheus.Histogram
	dedupCoalescedTotal        prometheus.Counter
	quotaDeniedTotal           prometheus.Counter
	rateLimitedTotal           prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	storageOperationsTotal     *prometheus.CounterVec
	activePipelines            prometheus.Gauge

	once sync.Once
)

// Collectors register on import so the Observe helpers work from any
// package without explicit setup.
func init() { Init() }

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagelens_captures_total",
				Help: "Total capture requests resolved, labeled by terminal state.",
			},
			[]string{"state"},
		)

		captureDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagelens_capture_duration_seconds",
				Help:    "Histogram of browser render durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
		)

		dedupCoalescedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagelens_dedup_coalesced_total",
				Help: "Requests that attached to an in-flight identical capture.",
			},
		)

		quotaDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagelens_quota_denied_total",
				Help: "Requests refused because the tenant allowance was spent.",
			},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagelens_rate_limited_total",
				Help: "Requests refused by the per-tenant rate limiter.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"method", "route"},
		)

		storageOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagelens_storage_operations_total",
				Help: "Object store calls, labeled by operation and result.",
			},
			[]string{"operation", "result"},
		)

		activePipelines = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagelens_active_pipelines",
				Help: "Capture pipelines currently executing.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture records one resolved capture request.
func ObserveCapture(state string, renderDuration time.Duration) {
	capturesTotal.WithLabelValues(state).Inc()
	if renderDuration > 0 {
		captureDurationSeconds.Observe(renderDuration.Seconds())
	}
}

// ObserveDedupHit counts a request coalesced onto an in-flight capture.
func ObserveDedupHit() {
	dedupCoalescedTotal.Inc()
}

// ObserveQuotaDenied counts a quota refusal.
func ObserveQuotaDenied() {
	quotaDeniedTotal.Inc()
}

// ObserveRateLimited counts a rate limiter refusal.
func ObserveRateLimited() {
	rateLimitedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveStorageOperation counts one object store call.
func ObserveStorageOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storageOperationsTotal.WithLabelValues(operation, result).Inc()
}

// IncActivePipelines increments the running pipeline gauge.
func IncActivePipelines() {
	activePipelines.Inc()
}

// DecActivePipelines decrements the running pipeline gauge.
func DecActivePipelines() {
	activePipelines.Dec()
}
