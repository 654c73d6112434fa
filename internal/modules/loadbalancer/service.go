package loadbalancer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"relay/internal/modules/backends"
	"relay/internal/modules/backends/models"
)

// ErrNoBackends is returned by strategies when the candidate set is empty.
var ErrNoBackends = errors.New("no backends available")

// Strategy picks the next backend from the healthy candidates.
type Strategy interface {
	Next(candidates []*models.Backend) (*models.Backend, error)
}

// connTracker is implemented by strategies that account in-flight requests.
type connTracker interface {
	acquire(id uint64)
	release(id uint64)
}

// NewStrategy builds the strategy named in config. Unknown names fall back
// to round robin.
func NewStrategy(name string) Strategy {
	switch name {
	case "weighted_round_robin":
		return NewWeightedRoundRobin()
	case "least_connections":
		return NewLeastConnections()
	default:
		return NewRoundRobin()
	}
}

// ---------------- round robin ----------------

// RoundRobin rotates over candidates with an atomic counter.
type RoundRobin struct {
	current atomic.Uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (rr *RoundRobin) Next(candidates []*models.Backend) (*models.Backend, error) {
	if len(candidates) == 0 {
		return nil, ErrNoBackends
	}
	index := rr.current.Add(1) - 1
	return candidates[index%uint64(len(candidates))], nil
}

// ---------------- smooth weighted round robin ----------------

// WeightedRoundRobin implements the smooth variant: each pick adds every
// candidate's weight to its running score, selects the highest score, then
// subtracts the total weight from the winner. Over time traffic converges to
// the weight ratios without bursts to any one backend.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	current map[uint64]int
}

func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{current: make(map[uint64]int)}
}

func (w *WeightedRoundRobin) Next(candidates []*models.Backend) (*models.Backend, error) {
	if len(candidates) == 0 {
		return nil, ErrNoBackends
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	var best *models.Backend
	for _, b := range candidates {
		w.current[b.ID] += b.Weight
		total += b.Weight
		if best == nil || w.current[b.ID] > w.current[best.ID] {
			best = b
		}
	}
	w.current[best.ID] -= total
	return best, nil
}

// ---------------- least connections ----------------

// LeastConnections routes to the candidate with the fewest in-flight
// requests. The proxy handler drives the accounting through acquire/release.
type LeastConnections struct {
	mu    sync.Mutex
	conns map[uint64]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{conns: make(map[uint64]int)}
}

func (lc *LeastConnections) Next(candidates []*models.Backend) (*models.Backend, error) {
	if len(candidates) == 0 {
		return nil, ErrNoBackends
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	best := candidates[0]
	for _, b := range candidates[1:] {
		if lc.conns[b.ID] < lc.conns[best.ID] {
			best = b
		}
	}
	return best, nil
}

func (lc *LeastConnections) acquire(id uint64) {
	lc.mu.Lock()
	lc.conns[id]++
	lc.mu.Unlock()
}

func (lc *LeastConnections) release(id uint64) {
	lc.mu.Lock()
	if lc.conns[id] > 0 {
		lc.conns[id]--
	}
	lc.mu.Unlock()
}

// ---------------- balancer ----------------

// Balancer maintains the healthy subset of a route's backends by consuming
// registry health transitions.
type Balancer struct {
	registry *backends.Registry
	logger   *zap.Logger
	Strategy Strategy

	mu      sync.RWMutex
	healthy map[uint64]*models.Backend
}

// NewBalancer starts a listener goroutine per health channel.
func NewBalancer(
	registry *backends.Registry,
	healthChannels []<-chan models.BackendStatus,
	strategy Strategy,
	logger *zap.Logger,
) *Balancer {
	lb := &Balancer{
		registry: registry,
		Strategy: strategy,
		logger:   logger,
		healthy:  make(map[uint64]*models.Backend),
	}
	for _, ch := range healthChannels {
		go func(c <-chan models.BackendStatus) {
			for update := range c {
				lb.apply(update)
			}
		}(ch)
	}
	return lb
}

func (lb *Balancer) apply(update models.BackendStatus) {
	if update.Healthy {
		lb.markHealthy(update.ID)
	} else {
		lb.markUnhealthy(update.ID)
	}
}

func (lb *Balancer) markHealthy(id uint64) {
	backend, ok := lb.registry.Get(id)
	if !ok {
		lb.logger.Warn("health update for unknown backend", zap.Uint64("id", id))
		return
	}

	lb.mu.Lock()
	lb.healthy[id] = &backend
	lb.mu.Unlock()
	lb.logger.Info("backend joined healthy set", zap.Uint64("id", id), zap.String("url", backend.URL))
}

func (lb *Balancer) markUnhealthy(id uint64) {
	lb.mu.Lock()
	_, present := lb.healthy[id]
	delete(lb.healthy, id)
	lb.mu.Unlock()
	if present {
		lb.logger.Info("backend left healthy set", zap.Uint64("id", id))
	}
}

// Healthy returns the healthy backends ordered by ID, so rotation-based
// strategies see a stable sequence.
func (lb *Balancer) Healthy() []*models.Backend {
	lb.mu.RLock()
	out := make([]*models.Backend, 0, len(lb.healthy))
	for _, b := range lb.healthy {
		out = append(out, b)
	}
	lb.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (lb *Balancer) String() string {
	return fmt.Sprintf("balancer(%d healthy)", len(lb.Healthy()))
}
