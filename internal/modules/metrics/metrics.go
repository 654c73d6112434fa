// Package metrics holds the gateway's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts proxied requests by route and response code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "requests_total",
		Help:      "Proxied requests by route and status code.",
	}, []string{"route", "code"})

	// RequestDuration tracks end-to-end request latency per route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "request_duration_seconds",
		Help:      "End-to-end request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429 by the rate limiter.",
	})

	// BreakerState exposes each breaker's state (0 closed, 1 open, 2 half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
	}, []string{"backend"})

	// BackendHealthy exposes the prober's view of each backend.
	BackendHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "backend_healthy",
		Help:      "Backend health as seen by the health checker (1 healthy).",
	}, []string{"backend"})

	// CacheHits and CacheMisses count response-cache lookups.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "cache_hits_total",
		Help:      "Response cache hits, stale serves included.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "cache_misses_total",
		Help:      "Response cache misses.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
