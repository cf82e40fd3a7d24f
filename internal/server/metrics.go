package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phishlense",
		Name:      "http_requests_total",
		Help:      "API requests by method, route, and status code.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "phishlense",
		Name:      "http_request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phishlense",
		Name:      "analyses_total",
		Help:      "Analysis runs by outcome.",
	}, []string{"outcome"})

	sandboxRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phishlense",
		Name:      "sandbox_runs_total",
		Help:      "Sandbox probes by outcome.",
	}, []string{"outcome"})

	rateLimitDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "phishlense",
		Name:      "rate_limit_denials_total",
		Help:      "Requests denied by the fixed-window rate limiter.",
	})
)

// metricsHandler serves the Prometheus scrape endpoint.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// instrument wraps a handler with request count and latency collection for
// one logical route.
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
