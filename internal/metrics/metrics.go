// Package metrics exposes Prometheus collectors for the snapshot service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	snapshotRunsTotal            *prometheus.CounterVec
	snapshotRunDurationSeconds   prometheus.Histogram
	snapshotStageDurationSeconds *prometheus.HistogramVec
	snapshotConsentOutcomesTotal *prometheus.CounterVec
	snapshotTriggersSkippedTotal *prometheus.CounterVec
	snapshotLastSuccessTimestamp prometheus.Gauge
	snapshotPublishedBytes       prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		snapshotRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_runs_total",
				Help: "Total number of snapshot runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		snapshotRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "snapshot_run_duration_seconds",
				Help:    "Histogram of end-to-end snapshot run durations.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		)

		snapshotStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapshot_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		)

		snapshotConsentOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_consent_outcomes_total",
				Help: "Total number of consent suppression attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		snapshotTriggersSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_triggers_skipped_total",
				Help: "Total number of triggers skipped because a run was in progress, labeled by source.",
			},
			[]string{"source"},
		)

		snapshotLastSuccessTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_last_success_timestamp_seconds",
				Help: "Unix time of the last successfully published snapshot.",
			},
		)

		snapshotPublishedBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_published_bytes",
				Help: "Size in bytes of the last published snapshot.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a finished run. status is "success" or a failure kind.
func ObserveRun(status string, duration time.Duration) {
	snapshotRunsTotal.WithLabelValues(status).Inc()
	snapshotRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveStage records how long one pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	snapshotStageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveConsent counts a consent suppression outcome.
func ObserveConsent(outcome string) {
	snapshotConsentOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSkippedTrigger counts a trigger dropped by the overlap guard.
func ObserveSkippedTrigger(source string) {
	snapshotTriggersSkippedTotal.WithLabelValues(source).Inc()
}

// ObservePublished records the time and size of a successful publish.
func ObservePublished(at time.Time, bytes int) {
	snapshotLastSuccessTimestamp.Set(float64(at.Unix()))
	snapshotPublishedBytes.Set(float64(bytes))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
