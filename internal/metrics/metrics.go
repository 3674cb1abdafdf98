// Package metrics exposes Prometheus collectors for the backfill service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	backfillRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_runs_total",
			Help: "Total number of backfill task runs, labeled by task and result.",
		},
		[]string{"task", "result"},
	)

	backfillItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_items_total",
			Help: "Total number of work items processed, labeled by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	backfillRunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backfill_run_duration_seconds",
			Help:    "Histogram of backfill run durations, labeled by task.",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"task"},
	)

	fetchGateInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetch_gate_in_flight",
			Help: "Number of outbound requests currently holding a fetch permit.",
		},
	)

	fetchGateWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_gate_wait_seconds",
			Help:    "Histogram of time spent waiting for a fetch permit.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	schedulerFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_fires_total",
			Help: "Total number of trigger fires, labeled by cron expression.",
		},
		[]string{"trigger"},
	)

	schedulerTaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_task_runs_total",
			Help: "Total number of scheduled task executions, labeled by task and result.",
		},
		[]string{"task", "result"},
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

	outboundRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_requests_total",
			Help: "Total number of outbound source requests, labeled by site and status class.",
		},
		[]string{"site", "status"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

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

// ObserveBackfillRun records one finished task run.
func ObserveBackfillRun(task, result string, duration time.Duration) {
	backfillRunsTotal.WithLabelValues(task, result).Inc()
	backfillRunDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveBackfillItem records the outcome of a single work item.
func ObserveBackfillItem(task, outcome string) {
	backfillItemsTotal.WithLabelValues(task, outcome).Inc()
}

// SetFetchGateInFlight publishes the number of outstanding permits.
func SetFetchGateInFlight(n int64) {
	fetchGateInFlight.Set(float64(n))
}

// ObserveFetchGateWait records how long a caller waited for a permit.
func ObserveFetchGateWait(d time.Duration) {
	fetchGateWaitSeconds.Observe(d.Seconds())
}

// ObserveSchedulerFire increments the fire counter for a trigger.
func ObserveSchedulerFire(trigger string) {
	schedulerFiresTotal.WithLabelValues(trigger).Inc()
}

// ObserveScheduledTask increments the scheduled execution counter.
func ObserveScheduledTask(task, result string) {
	schedulerTaskRunsTotal.WithLabelValues(task, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSourceRequest counts an outbound call. A zero code means the request never got a response.
func ObserveSourceRequest(rawURL string, code int) {
	outboundRequestsTotal.WithLabelValues(SanitizeSite(rawURL), statusClass(code)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code <= 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
