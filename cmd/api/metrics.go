package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dla",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dla",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dla",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the rate limiter",
		},
		[]string{"class"},
	)

	parseRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dla",
			Subsystem: "parser",
			Name:      "runs_total",
			Help:      "Parser runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	parseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dla",
			Subsystem: "parser",
			Name:      "run_duration_seconds",
			Help:      "Parser run duration by mode",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	sweepDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dla",
			Subsystem: "retention",
			Name:      "sweep_deleted_total",
			Help:      "Files deleted by retention sweeps",
		},
		[]string{"phase"},
	)
)

// promMetrics implements rest.HTTPMetrics and analysisflow.Observer.
type promMetrics struct{}

func (promMetrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (promMetrics) RateLimited(class string) {
	rateLimitedTotal.WithLabelValues(class).Inc()
}

func (promMetrics) ObserveParse(modeKey, outcome string, elapsed time.Duration) {
	parseRunsTotal.WithLabelValues(modeKey, outcome).Inc()
	parseDuration.WithLabelValues(modeKey).Observe(elapsed.Seconds())
}

func (promMetrics) SweepDeleted(phase string, count int) {
	sweepDeletedTotal.WithLabelValues(phase).Add(float64(count))
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
