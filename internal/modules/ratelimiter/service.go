package ratelimiter

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ---------------- token bucket ----------------

type bucket struct {
	tokens     float64
	lastRefill time.Time
	capacity   int
	refillRate float64
}

// TokenBucketLimiter refills each client's bucket lazily from elapsed time,
// so idle clients cost nothing. Bursts up to the bucket capacity pass; after
// that requests are admitted at the refill rate.
type TokenBucketLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	overrides  map[string]*ClientConfig
	capacity   int
	refillRate float64
	logger     *zap.Logger

	now func() time.Time
}

func NewTokenBucketLimiter(capacity int, refillRate float64, logger *zap.Logger) *TokenBucketLimiter {
	if capacity < 1 {
		capacity = 1
	}
	logger.Info("token bucket limiter initialized",
		zap.Int("capacity", capacity),
		zap.Float64("refill_rate", refillRate))
	return &TokenBucketLimiter{
		buckets:    make(map[string]*bucket),
		overrides:  make(map[string]*ClientConfig),
		capacity:   capacity,
		refillRate: refillRate,
		logger:     logger,
		now:        time.Now,
	}
}

// Allow reports whether a request from clientID may proceed, consuming one
// token when it does. An unseen client starts with a full bucket.
func (tb *TokenBucketLimiter) Allow(clientID string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b := tb.bucketLocked(clientID)
	tb.refillLocked(b)

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	tb.logger.Debug("request denied, bucket empty", zap.String("client", clientID))
	return false
}

// Status returns the remaining budget for a client without consuming tokens.
func (tb *TokenBucketLimiter) Status(clientID string) Status {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, ok := tb.buckets[clientID]
	if !ok {
		capacity, _ := tb.limitsLocked(clientID)
		return Status{ClientID: clientID, Remaining: capacity, Limit: capacity}
	}
	tb.refillLocked(b)

	st := Status{
		ClientID:  clientID,
		Remaining: int(b.tokens),
		Limit:     b.capacity,
		Limited:   b.tokens < 1,
	}
	if st.Limited && b.refillRate > 0 {
		st.RetryAfter = time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	}
	return st
}

func (tb *TokenBucketLimiter) bucketLocked(clientID string) *bucket {
	if b, ok := tb.buckets[clientID]; ok {
		return b
	}
	capacity, rate := tb.limitsLocked(clientID)
	b := &bucket{
		tokens:     float64(capacity),
		lastRefill: tb.now(),
		capacity:   capacity,
		refillRate: rate,
	}
	tb.buckets[clientID] = b
	return b
}

func (tb *TokenBucketLimiter) limitsLocked(clientID string) (int, float64) {
	if cfg, ok := tb.overrides[clientID]; ok {
		return cfg.Capacity, cfg.RefillRate
	}
	return tb.capacity, tb.refillRate
}

func (tb *TokenBucketLimiter) refillLocked(b *bucket) {
	now := tb.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(float64(b.capacity), b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// AddClient installs a per-client override, resetting any existing bucket so
// the new limits take effect immediately.
func (tb *TokenBucketLimiter) AddClient(cfg *ClientConfig) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	tb.overrides[cfg.ClientID] = cfg
	delete(tb.buckets, cfg.ClientID)

	tb.logger.Info("rate limit client added",
		zap.String("client", cfg.ClientID),
		zap.Int("capacity", cfg.Capacity),
		zap.Float64("refill_rate", cfg.RefillRate))
}

// GetClient returns the override for clientID, if any.
func (tb *TokenBucketLimiter) GetClient(clientID string) (*ClientConfig, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	cfg, ok := tb.overrides[clientID]
	return cfg, ok
}

// DeleteClient removes a client's override and bucket; the client falls back
// to the default limits on its next request.
func (tb *TokenBucketLimiter) DeleteClient(clientID string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	delete(tb.overrides, clientID)
	delete(tb.buckets, clientID)
	tb.logger.Info("rate limit client deleted", zap.String("client", clientID))
}

// ListClients returns all per-client overrides.
func (tb *TokenBucketLimiter) ListClients() []*ClientConfig {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	out := make([]*ClientConfig, 0, len(tb.overrides))
	for _, cfg := range tb.overrides {
		out = append(out, cfg)
	}
	return out
}

// ---------------- sliding window ----------------

// SlidingWindowLimiter admits at most maxRequests per client within a rolling
// window, tracking individual request timestamps. Smoother than a fixed
// window at the cost of memory proportional to the limit.
type SlidingWindowLimiter struct {
	mu          sync.Mutex
	requests    map[string][]time.Time
	maxRequests int
	window      time.Duration
	logger      *zap.Logger

	now func() time.Time
}

func NewSlidingWindowLimiter(maxRequests int, window time.Duration, logger *zap.Logger) *SlidingWindowLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	logger.Info("sliding window limiter initialized",
		zap.Int("max_requests", maxRequests),
		zap.Duration("window", window))
	return &SlidingWindowLimiter{
		requests:    make(map[string][]time.Time),
		maxRequests: maxRequests,
		window:      window,
		logger:      logger,
		now:         time.Now,
	}
}

func (sw *SlidingWindowLimiter) Allow(clientID string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	active := sw.pruneLocked(clientID, now)

	if len(active) < sw.maxRequests {
		sw.requests[clientID] = append(active, now)
		return true
	}
	sw.requests[clientID] = active
	sw.logger.Debug("request denied, window full", zap.String("client", clientID))
	return false
}

func (sw *SlidingWindowLimiter) Status(clientID string) Status {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	active := sw.pruneLocked(clientID, now)
	sw.requests[clientID] = active

	st := Status{
		ClientID:  clientID,
		Remaining: sw.maxRequests - len(active),
		Limit:     sw.maxRequests,
		Limited:   len(active) >= sw.maxRequests,
	}
	if st.Limited {
		// The window frees a slot when its oldest timestamp ages out.
		st.RetryAfter = active[0].Add(sw.window).Sub(now)
	}
	return st
}

func (sw *SlidingWindowLimiter) pruneLocked(clientID string, now time.Time) []time.Time {
	cutoff := now.Add(-sw.window)
	timestamps := sw.requests[clientID]

	i := 0
	for i < len(timestamps) && !timestamps[i].After(cutoff) {
		i++
	}
	return timestamps[i:]
}
