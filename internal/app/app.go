package app

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"relay/internal/config"
	routes "relay/internal/modules"
	"relay/internal/modules/backends"
	"relay/internal/modules/backends/models"
	"relay/internal/modules/cache"
	"relay/internal/modules/circuitbreaker"
	"relay/internal/modules/healthchecker"
	"relay/internal/modules/loadbalancer"
	"relay/internal/modules/ratelimiter"
	"relay/internal/modules/registry"
	"relay/internal/modules/retry"
	"relay/internal/modules/stats"
)

// Run wires every gateway component together and blocks until a shutdown
// signal arrives.
func Run(configPath string) error {
	logger, err := initLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	sugar.Infof("configuration loaded from %s", configPath)

	// Debug server for pprof.
	if cfg.Server.DebugAddress != "" {
		go func() {
			sugar.Infof("debug server listening on %s", cfg.Server.DebugAddress)
			sugar.Info(http.ListenAndServe(cfg.Server.DebugAddress, nil))
		}()
	}

	// Shared HTTP client with a connection pool, used by the prober and
	// the proxy handlers.
	pooledClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
		Timeout: 10 * time.Second,
	}

	backendRegistry := backends.NewRegistry(logger)
	checker := healthchecker.New(
		cfg.HealthChecker.HealthyFrequency,
		cfg.HealthChecker.UnhealthyFrequency,
		backendRegistry,
		pooledClient,
		logger,
	)
	sugar.Info("health checker initialized")

	serviceRegistry := registry.New(logger)
	serviceRegistry.StartJanitor(ctx, cfg.Registry.JanitorInterval)

	routeConfigs := buildRoutes(cfg, sugar)

	lbMap := loadbalancer.CreateLoadBalancers(routeConfigs, loadbalancer.Options{
		Registry:  backendRegistry,
		Checker:   checker,
		Discovery: serviceRegistry,
		Cache:     cache.New(cfg.Cache.Capacity, cfg.Cache.TTL),
		Client:    pooledClient,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
			HalfOpenMax:      cfg.CircuitBreaker.HalfOpenMax,
		},
		Retry: retry.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Logger: logger,
	})

	limiter := buildLimiter(cfg, logger)
	recorder := stats.NewRecorder(cfg.Stats.Window, logger)
	sugar.Info("load balancers and rate limiter initialized")

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: routes.CreateRouter(lbMap, limiter, recorder, serviceRegistry, logger),
	}

	go func() {
		sugar.Infof("gateway listening on %s", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorf("server failed: %v", err)
			cancel()
		}
	}()

	checker.Start(ctx)
	sugar.Info("health checker started")

	waitForShutdown(ctx, server, sugar)
	return nil
}

func buildRoutes(cfg *config.Config, sugar *zap.SugaredLogger) []loadbalancer.RouteConfig {
	routeConfigs := make([]loadbalancer.RouteConfig, len(cfg.Routes))
	for i, route := range cfg.Routes {
		rc := loadbalancer.RouteConfig{
			Path:     route.Path,
			Service:  route.Service,
			Strategy: route.Strategy,
			Backends: make([]models.Backend, len(route.Backends)),
		}
		for j, b := range route.Backends {
			rc.Backends[j] = *backends.NewBackend(b.URL, b.Health, b.Weight)
		}
		routeConfigs[i] = rc
		sugar.Infof("loaded route %s (service=%q, %d static backends)",
			route.Path, route.Service, len(route.Backends))
	}
	return routeConfigs
}

func buildLimiter(cfg *config.Config, logger *zap.Logger) ratelimiter.Limiter {
	if cfg.RateLimiter.Algorithm == "sliding_window" {
		return ratelimiter.NewSlidingWindowLimiter(cfg.RateLimiter.Capacity, cfg.RateLimiter.Window, logger)
	}
	return ratelimiter.NewTokenBucketLimiter(cfg.RateLimiter.Capacity, cfg.RateLimiter.RefillRate, logger)
}

func initLogger() (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.TimeKey = "timestamp"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logConfig.Build()
}

func waitForShutdown(ctx context.Context, server *http.Server, sugar *zap.SugaredLogger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		sugar.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("shutdown error: %v", err)
	} else {
		sugar.Info("server stopped gracefully")
	}
}
