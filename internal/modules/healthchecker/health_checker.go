// Package healthchecker probes backends over HTTP and publishes health
// transitions to the backend registry.
package healthchecker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"relay/internal/modules/backends"
	"relay/internal/modules/backends/models"
	"relay/internal/modules/metrics"
)

const defaultWorkers = 3

// probeResult captures one check's outcome.
type probeResult struct {
	healthy    bool
	statusCode int
	latency    time.Duration
	err        error
}

// Checker probes backends on a schedule: healthy backends at a relaxed
// frequency, unhealthy ones more aggressively so recovery is noticed fast.
type Checker struct {
	probeQueue         chan *models.Backend
	healthyFrequency   time.Duration
	unhealthyFrequency time.Duration
	registry           *backends.Registry
	healthySet         sync.Map // backend ID -> struct{}
	httpClient         *http.Client
	workers            int
	logger             *zap.Logger
}

func New(
	healthyFreq time.Duration,
	unhealthyFreq time.Duration,
	registry *backends.Registry,
	httpClient *http.Client,
	logger *zap.Logger,
) *Checker {
	return &Checker{
		probeQueue:         make(chan *models.Backend, 1000),
		healthyFrequency:   healthyFreq,
		unhealthyFrequency: unhealthyFreq,
		registry:           registry,
		httpClient:         httpClient,
		workers:            defaultWorkers,
		logger:             logger,
	}
}

// Start launches the probe workers. They drain the queue until ctx ends.
func (hc *Checker) Start(ctx context.Context) {
	for i := 0; i < hc.workers; i++ {
		go hc.worker(ctx, i)
	}
}

// AddBackend enqueues a backend for immediate probing and ongoing rechecks.
func (hc *Checker) AddBackend(backend *models.Backend) {
	hc.logger.Debug("backend added to health checker", zap.String("url", backend.URL))
	hc.probeQueue <- backend
}

func (hc *Checker) worker(ctx context.Context, id int) {
	hc.logger.Info("health check worker started", zap.Int("worker_id", id))
	for {
		select {
		case <-ctx.Done():
			return
		case backend := <-hc.probeQueue:
			hc.checkBackend(ctx, backend)
		}
	}
}

func (hc *Checker) checkBackend(ctx context.Context, backend *models.Backend) {
	result := hc.probe(ctx, backend)

	if result.healthy {
		hc.logger.Debug("backend is healthy",
			zap.String("url", backend.URL),
			zap.Int("status", result.statusCode),
			zap.Duration("latency", result.latency))
	} else {
		hc.logger.Debug("backend is unhealthy",
			zap.String("url", backend.URL),
			zap.Int("status", result.statusCode),
			zap.Duration("latency", result.latency),
			zap.Error(result.err))
	}

	hc.updateStatus(backend, result.healthy)

	nextCheck := hc.unhealthyFrequency
	if result.healthy {
		nextCheck = hc.healthyFrequency
	}
	time.AfterFunc(nextCheck, func() {
		select {
		case <-ctx.Done():
		case hc.probeQueue <- backend:
		}
	})
}

func (hc *Checker) probe(ctx context.Context, backend *models.Backend) probeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend.URL+backend.HealthPath, nil)
	if err != nil {
		return probeResult{err: err}
	}

	start := time.Now()
	resp, err := hc.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return probeResult{latency: latency, err: err}
	}
	defer resp.Body.Close()

	return probeResult{
		healthy:    resp.StatusCode == http.StatusOK,
		statusCode: resp.StatusCode,
		latency:    latency,
	}
}

// updateStatus publishes only edges: the registry hears about a backend when
// its health actually flips, not on every probe.
func (hc *Checker) updateStatus(backend *models.Backend, healthy bool) {
	_, wasHealthy := hc.healthySet.Load(backend.ID)

	switch {
	case healthy && !wasHealthy:
		hc.healthySet.Store(backend.ID, struct{}{})
		hc.registry.UpdateHealth(models.BackendStatus{ID: backend.ID, Healthy: true})
		metrics.BackendHealthy.WithLabelValues(backend.URL).Set(1)
		hc.logger.Info("backend marked healthy", zap.Uint64("id", backend.ID), zap.String("url", backend.URL))
	case !healthy && wasHealthy:
		hc.healthySet.Delete(backend.ID)
		hc.registry.UpdateHealth(models.BackendStatus{ID: backend.ID, Healthy: false})
		metrics.BackendHealthy.WithLabelValues(backend.URL).Set(0)
		hc.logger.Info("backend marked unhealthy", zap.Uint64("id", backend.ID), zap.String("url", backend.URL))
	}
}
