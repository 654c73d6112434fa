package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/gommon/random"
	"go.uber.org/zap"

	"relay/internal/modules/circuitbreaker"
	"relay/internal/modules/loadbalancer"
	"relay/internal/modules/metrics"
	"relay/internal/modules/ratelimiter"
	"relay/internal/modules/registry"
	"relay/internal/modules/stats"
)

const requestIDHeader = "X-Request-ID"

// CreateRouter assembles the gateway mux: every proxied route gets the
// request-id -> recorder -> rate-limit chain, and the admin endpoints are
// mounted alongside.
func CreateRouter(
	lbMap map[string]*loadbalancer.Handler,
	limiter ratelimiter.Limiter,
	recorder *stats.Recorder,
	serviceRegistry *registry.Service,
	logger *zap.Logger,
) *http.ServeMux {
	router := http.NewServeMux()

	for path, handler := range lbMap {
		chain := ratelimiter.Middleware(handler, limiter, logger)
		chain = stats.Middleware(chain, recorder, path)
		chain = requestIDMiddleware(chain)
		router.Handle(path, chain)
		router.Handle(path+"/", chain)
	}

	// Per-client rate limit overrides are a token bucket feature; the
	// endpoint is absent when the sliding window is configured.
	if tb, ok := limiter.(*ratelimiter.TokenBucketLimiter); ok {
		router.HandleFunc("/clients", tb.ClientsHandler)
	}

	router.HandleFunc("/registry/services", serviceRegistry.ServicesHandler)
	router.HandleFunc("/registry/services/{service}", serviceRegistry.InstancesHandler)
	router.HandleFunc("/registry/services/{service}/{instance}", serviceRegistry.InstanceHandler)
	router.HandleFunc("/registry/services/{service}/{instance}/heartbeat", serviceRegistry.HeartbeatHandler)

	router.HandleFunc("/stats", recorder.StatsHandler)
	router.HandleFunc("/breakers", breakersHandler(lbMap))
	router.HandleFunc("/healthz", healthzHandler(lbMap))
	router.Handle("/metrics", metrics.Handler())

	return router
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = random.String(16, random.Hex)
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func breakersHandler(lbMap map[string]*loadbalancer.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string][]circuitbreaker.Status, len(lbMap))
		for path, h := range lbMap {
			out[path] = h.BreakerStatuses()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func healthzHandler(lbMap map[string]*loadbalancer.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"routes": len(lbMap),
		})
	}
}
