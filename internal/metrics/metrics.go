// Package metrics exposes Prometheus collectors for the dashboard service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	crawlStartTotal              *prometheus.CounterVec
	crawlDispatchTotal           *prometheus.CounterVec
	workflowStepsTotal           *prometheus.CounterVec
	workflowDurationSeconds      *prometheus.HistogramVec
	workflowActiveRuns           prometheus.Gauge
	fetcherRateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		crawlStartTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_start_total",
				Help: "Crawl start attempts, labeled by outcome (started, conflict, invalid, unauthorized, error).",
			},
			[]string{"outcome"},
		)

		crawlDispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_dispatch_total",
				Help: "Workflow hand-offs, labeled by dispatcher backend and result.",
			},
			[]string{"backend", "result"},
		)

		workflowStepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_steps_total",
				Help: "Workflow steps executed, labeled by step and result.",
			},
			[]string{"step", "result"},
		)

		workflowDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_duration_seconds",
				Help:    "Histogram of end-to-end workflow durations, labeled by result.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"result"},
		)

		workflowActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "workflow_active_runs",
				Help: "Number of workflow runs currently executing.",
			},
		)

		fetcherRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetcher_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCrawlStart counts a StartCrawl outcome.
func ObserveCrawlStart(outcome string) {
	Init()
	crawlStartTotal.WithLabelValues(outcome).Inc()
}

// ObserveDispatch counts a hand-off attempt for backend.
func ObserveDispatch(backend string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	crawlDispatchTotal.WithLabelValues(backend, result).Inc()
}

// ObserveWorkflowStep counts a completed or failed workflow step.
func ObserveWorkflowStep(step string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	workflowStepsTotal.WithLabelValues(step, result).Inc()
}

// ObserveWorkflow records the duration of a finished workflow run.
func ObserveWorkflow(result string, duration time.Duration) {
	Init()
	workflowDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// IncActiveRuns increments the active workflow gauge.
func IncActiveRuns() {
	Init()
	workflowActiveRuns.Inc()
}

// DecActiveRuns decrements the active workflow gauge.
func DecActiveRuns() {
	Init()
	workflowActiveRuns.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	fetcherRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
