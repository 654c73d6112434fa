package ratelimiter

import "time"

// ClientConfig is a per-client limit override.
type ClientConfig struct {
	ClientID   string  `json:"client_id"`
	Capacity   int     `json:"capacity"`
	RefillRate float64 `json:"refill_rate"` // tokens per second
}

// Status reports the limiter's view of one client.
type Status struct {
	ClientID   string        `json:"client_id"`
	Remaining  int           `json:"remaining"`
	Limit      int           `json:"limit"`
	Limited    bool          `json:"limited"`
	RetryAfter time.Duration `json:"-"`
}

// Limiter is the contract the middleware depends on; both the token bucket
// and the sliding window satisfy it.
type Limiter interface {
	Allow(clientID string) bool
	Status(clientID string) Status
}
