// Package metrics exposes Prometheus collectors for the archiver.
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

// Fetch modes.
const (
	ModeJSON   = "json"
	ModeBinary = "binary"
)

// Fetch outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
	OutcomeNoData    = "no_data"
	OutcomeDecode    = "decode_error"
	OutcomeSaveError = "save_error"
	OutcomeStatus    = "http_status"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	storiesTotal               *prometheus.CounterVec
	commentsTotal              prometheus.Counter
	refsTotal                  prometheus.Counter
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	inFlightRequests           prometheus.Gauge
	rateLimitDelaysSeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnarchiver_fetches_total",
				Help: "Total number of outbound requests, labeled by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hnarchiver_fetch_duration_seconds",
				Help:    "Histogram of outbound request latencies, labeled by mode.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"mode"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnarchiver_fetch_bytes_total",
				Help: "Total number of response bytes received, labeled by mode.",
			},
			[]string{"mode"},
		)

		storiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnarchiver_stories_total",
				Help: "Total number of stories traversed, labeled by result.",
			},
			[]string{"result"},
		)

		commentsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hnarchiver_comments_total",
				Help: "Total number of comments visited.",
			},
		)

		refsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hnarchiver_refs_total",
				Help: "Total number of links found in comments.",
			},
		)

		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnarchiver_cycles_total",
				Help: "Total number of polling cycles, labeled by status.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hnarchiver_cycle_duration_seconds",
				Help:    "Histogram of polling cycle durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		inFlightRequests = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hnarchiver_in_flight_requests",
				Help: "Number of outbound requests currently holding a connection slot.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hnarchiver_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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

// ObserveFetch records one outbound request.
func ObserveFetch(mode, outcome string, duration time.Duration, bytesFetched int) {
	Init()
	fetchesTotal.WithLabelValues(mode, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(mode).Add(float64(bytesFetched))
	}
}

// ObserveStory records a finished story traversal.
func ObserveStory(result string, comments, refs int) {
	Init()
	storiesTotal.WithLabelValues(result).Inc()
	commentsTotal.Add(float64(comments))
	refsTotal.Add(float64(refs))
}

// ObserveCycle records a finished polling cycle.
func ObserveCycle(status string, duration time.Duration) {
	Init()
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// IncInFlight increments the in-flight request gauge.
func IncInFlight() {
	Init()
	inFlightRequests.Inc()
}

// DecInFlight decrements the in-flight request gauge.
func DecInFlight() {
	Init()
	inFlightRequests.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
