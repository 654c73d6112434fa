package loadbalancer

import (
	"net/http"

	"go.uber.org/zap"

	"relay/internal/modules/backends"
	"relay/internal/modules/backends/models"
	"relay/internal/modules/cache"
	"relay/internal/modules/circuitbreaker"
	"relay/internal/modules/healthchecker"
	"relay/internal/modules/registry"
	"relay/internal/modules/retry"
)

// RouteConfig describes one proxied route: either a static backend list kept
// healthy by the prober, or a service name resolved through the registry.
type RouteConfig struct {
	Path     string
	Service  string
	Strategy string
	Backends []models.Backend
}

// Options carries the shared infrastructure route handlers are built on.
type Options struct {
	Registry  *backends.Registry
	Checker   *healthchecker.Checker
	Discovery *registry.Service
	Cache     *cache.LRU
	Client    *http.Client
	Breaker   circuitbreaker.Config
	Retry     retry.Policy
	Logger    *zap.Logger
}

// CreateLoadBalancers builds a ready-to-mount handler per route, keyed by
// path.
func CreateLoadBalancers(routes []RouteConfig, opts Options) map[string]*Handler {
	handlers := make(map[string]*Handler)

	for _, route := range routes {
		healthChannels := setupHealthAndRegister(route.Backends, opts.Registry, opts.Checker)

		balancer := NewBalancer(opts.Registry, healthChannels, NewStrategy(route.Strategy), opts.Logger)
		handlers[route.Path] = NewHandler(balancer, HandlerOptions{
			Client:      opts.Client,
			Cache:       opts.Cache,
			Breaker:     opts.Breaker,
			Retry:       opts.Retry,
			Discovery:   opts.Discovery,
			ServiceName: route.Service,
			Logger:      opts.Logger,
		})
		opts.Logger.Debug("load balancer created for route",
			zap.String("path", route.Path),
			zap.String("strategy", route.Strategy),
			zap.String("service", route.Service),
			zap.Int("backends", len(route.Backends)))
	}

	return handlers
}

// setupHealthAndRegister registers each static backend with the prober and
// the registry, and subscribes to its health transitions.
func setupHealthAndRegister(
	backendList []models.Backend,
	reg *backends.Registry,
	checker *healthchecker.Checker,
) []<-chan models.BackendStatus {
	var healthChannels []<-chan models.BackendStatus

	for _, backend := range backendList {
		backendCopy := backend
		checker.AddBackend(&backendCopy)
		reg.Add(backendCopy)

		healthChannels = append(healthChannels, reg.Subscribe(backendCopy.ID))
	}

	return healthChannels
}
