// Package circuitbreaker implements the classic three-state breaker used to
// stop hammering a failing backend.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a breaker.
type State int

const (
	// StateClosed passes requests through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects requests immediately.
	StateOpen
	// StateHalfOpen lets a bounded number of probe requests through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Do when the breaker rejects a request without
// invoking the attempt.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // time in open before probing
	HalfOpenMax      int           // probe requests allowed while half-open
}

// DefaultConfig returns conservative thresholds suitable for most backends.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker is a thread-safe circuit breaker for one downstream target.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCalls int

	onStateChange func(name string, state State)
	now           func() time.Time
}

// Status is a point-in-time snapshot of a breaker, suitable for admin output.
type Status struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	Threshold int    `json:"threshold"`
}

func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenMax < 1 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
		now:    time.Now,
	}
}

// OnStateChange registers a callback fired (outside the lock) on transitions.
func (b *Breaker) OnStateChange(fn func(name string, state State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// State returns the current state, promoting open to half-open once the
// reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

func (b *Breaker) currentStateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		b.setStateLocked(StateHalfOpen)
		b.halfOpenCalls = 0
	}
	return b.state
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.logger.Info("circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("state", s.String()))
	if b.onStateChange != nil {
		fn, name := b.onStateChange, b.name
		go fn(name, s)
	}
}

// Do runs fn through the breaker. When open, it returns ErrOpen without
// calling fn. When half-open, at most HalfOpenMax in-flight probes are
// admitted; the rest get ErrOpen.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.currentStateLocked() {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMax {
			b.mu.Unlock()
			return ErrOpen
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.setStateLocked(StateClosed)
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	// A failed half-open probe reopens immediately; in closed state the
	// consecutive-failure threshold applies.
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.setStateLocked(StateOpen)
	}
}

// Status returns a snapshot for admin and metrics endpoints.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:      b.name,
		State:     b.currentStateLocked().String(),
		Failures:  b.failures,
		Threshold: b.cfg.FailureThreshold,
	}
}
