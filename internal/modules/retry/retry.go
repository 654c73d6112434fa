// Package retry implements bounded retries with exponential backoff and
// jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy controls how Do spaces its attempts.
type Policy struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap on the exponential growth
	Multiplier   float64       // growth factor per attempt
	Jitter       bool          // randomize each delay to avoid synchronized retries
}

// DefaultPolicy mirrors the usual client-side retry budget: three tries,
// one second base delay doubling up to thirty seconds, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, fn returns a permanent error, the attempt
// budget is exhausted, or ctx is cancelled. The last error is returned
// unwrapped from any Permanent marker.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = 2.0
	}

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == policy.MaxAttempts-1 {
			break
		}

		wait := delay
		if policy.MaxDelay > 0 && wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}
		if policy.Jitter {
			// Spread each delay over [0.5x, 1.5x) to desynchronize retries.
			wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
	}

	return lastErr
}
