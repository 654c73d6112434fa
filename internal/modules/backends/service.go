package backends

import (
	"sync"

	"go.uber.org/zap"

	"relay/internal/modules/backends/models"
)

type healthUpdateChannel chan models.BackendStatus

// Registry tracks every known backend and fans health transitions out to
// subscribers. The health checker writes, load balancers read.
type Registry struct {
	mu          sync.RWMutex
	byID        map[uint64]models.Backend
	statuses    map[uint64]models.BackendStatus
	subscribers map[uint64][]healthUpdateChannel
	logger      *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byID:        make(map[uint64]models.Backend),
		statuses:    make(map[uint64]models.BackendStatus),
		subscribers: make(map[uint64][]healthUpdateChannel),
		logger:      logger,
	}
}

// Add registers a backend. Re-adding the same ID overwrites the record.
func (r *Registry) Add(backend models.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[backend.ID] = backend
}

// Get returns the backend for the given ID.
func (r *Registry) Get(id uint64) (models.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.byID[id]
	return backend, ok
}

// Snapshot returns a copy of all registered backends.
func (r *Registry) Snapshot() []models.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Backend, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, b)
	}
	return out
}

// Subscribe returns a channel that receives health transitions for one backend.
func (r *Registry) Subscribe(id uint64) <-chan models.BackendStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(healthUpdateChannel, 16)
	r.subscribers[id] = append(r.subscribers[id], ch)
	return ch
}

// UpdateHealth records a status and notifies subscribers. Sends never block:
// a subscriber that has fallen 16 updates behind loses the oldest transition,
// which is safe because only the latest state matters to a balancer.
func (r *Registry) UpdateHealth(status models.BackendStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses[status.ID] = status

	for _, ch := range r.subscribers[status.ID] {
		select {
		case ch <- status:
		default:
			r.logger.Warn("dropping health update for slow subscriber",
				zap.Uint64("backend_id", status.ID))
		}
	}
}

// Status returns the last recorded health status for a backend.
func (r *Registry) Status(id uint64) (models.BackendStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.statuses[id]
	return st, ok
}
