// Package registry implements an in-memory service registry with TTL-based
// liveness: instances register with a TTL and must heartbeat before it
// elapses, or discovery stops returning them.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL applies when a registration does not specify one.
const DefaultTTL = 30 * time.Second

// Service is the registry itself.
type Service struct {
	mu       sync.RWMutex
	services map[string]map[string]*Instance // service -> instance ID -> instance
	logger   *zap.Logger

	now func() time.Time
}

func New(logger *zap.Logger) *Service {
	return &Service{
		services: make(map[string]map[string]*Instance),
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds or replaces an instance. A missing instance ID gets a
// generated one; a missing TTL gets DefaultTTL.
func (s *Service) Register(inst Instance) Instance {
	if inst.InstanceID == "" {
		inst.InstanceID = uuid.NewString()
	}
	if inst.TTL <= 0 {
		inst.TTL = DefaultTTL
	}
	inst.TTLSeconds = int(inst.TTL / time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	inst.RegisteredAt = now
	inst.LastHeartbeat = now

	if s.services[inst.Service] == nil {
		s.services[inst.Service] = make(map[string]*Instance)
	}
	s.services[inst.Service][inst.InstanceID] = &inst

	s.logger.Info("service instance registered",
		zap.String("service", inst.Service),
		zap.String("instance", inst.InstanceID),
		zap.String("address", inst.Address),
		zap.Int("port", inst.Port),
		zap.Duration("ttl", inst.TTL))
	return inst
}

// Deregister removes an instance, reporting whether it existed.
func (s *Service) Deregister(service, instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances, ok := s.services[service]
	if !ok {
		return false
	}
	if _, ok := instances[instanceID]; !ok {
		return false
	}
	delete(instances, instanceID)
	if len(instances) == 0 {
		delete(s.services, service)
	}
	s.logger.Info("service instance deregistered",
		zap.String("service", service),
		zap.String("instance", instanceID))
	return true
}

// Heartbeat renews an instance's TTL, reporting whether it is registered.
// An instance whose TTL already lapsed can still revive itself by
// heartbeating before the janitor evicts it.
func (s *Service) Heartbeat(service, instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst, ok := s.services[service][instanceID]; ok {
		inst.LastHeartbeat = s.now()
		return true
	}
	return false
}

// Discover returns the live instances of a service, i.e. those whose last
// heartbeat is within their TTL.
func (s *Service) Discover(service string) []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []Instance
	for _, inst := range s.services[service] {
		if now.Sub(inst.LastHeartbeat) <= inst.TTL {
			out = append(out, *inst)
		}
	}
	return out
}

// Services lists all service names with at least one registered instance,
// expired or not, sorted for stable output.
func (s *Service) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartJanitor periodically evicts instances whose TTL lapsed more than one
// full TTL ago, bounding memory without racing late heartbeats.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictExpired()
			}
		}
	}()
}

func (s *Service) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for name, instances := range s.services {
		for id, inst := range instances {
			if now.Sub(inst.LastHeartbeat) > 2*inst.TTL {
				delete(instances, id)
				s.logger.Info("expired instance evicted",
					zap.String("service", name),
					zap.String("instance", id))
			}
		}
		if len(instances) == 0 {
			delete(s.services, name)
		}
	}
}
