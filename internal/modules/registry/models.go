package registry

import "time"

// Instance is one registered copy of a service.
type Instance struct {
	InstanceID    string            `json:"instance_id"`
	Service       string            `json:"service"`
	Address       string            `json:"address"`
	Port          int               `json:"port"`
	TTL           time.Duration     `json:"-"`
	TTLSeconds    int               `json:"ttl_seconds"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

type registerRequest struct {
	Service    string            `json:"service"`
	InstanceID string            `json:"instance_id,omitempty"`
	Address    string            `json:"address"`
	Port       int               `json:"port"`
	TTLSeconds int               `json:"ttl_seconds,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
