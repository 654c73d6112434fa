package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errDown = errors.New("service unavailable")

func failing() error { return errDown }
func succeeding() error { return nil }

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *time.Time) {
	b := New("test", Config{FailureThreshold: threshold, ResetTimeout: reset, HalfOpenMax: 1}, zap.NewNop())
	current := time.Unix(1000, 0)
	b.now = func() time.Time { return current }
	return b, &current
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(failing), errDown)
	}
	assert.Equal(t, StateOpen, b.State())

	// Rejected without invoking the attempt.
	calls := 0
	err := b.Do(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	require.Error(t, b.Do(failing))
	require.Error(t, b.Do(failing))
	assert.Equal(t, StateClosed, b.State())

	// A success resets the consecutive-failure count.
	require.NoError(t, b.Do(succeeding))
	require.Error(t, b.Do(failing))
	require.Error(t, b.Do(failing))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)

	require.Error(t, b.Do(failing))
	assert.Equal(t, StateOpen, b.State())

	*clock = clock.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)

	require.Error(t, b.Do(failing))
	*clock = clock.Add(31 * time.Second)

	require.NoError(t, b.Do(succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 3; i++ {
		require.Error(t, b.Do(failing))
	}
	*clock = clock.Add(31 * time.Second)

	assert.ErrorIs(t, b.Do(failing), errDown)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenCapsProbes(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	require.Error(t, b.Do(failing))
	*clock = clock.Add(31 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	// First probe admitted; it blocks in fn while a second arrives.
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, b.Do(succeeding), ErrOpen, "second concurrent probe must be rejected")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerStatus(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)
	require.Error(t, b.Do(failing))

	st := b.Status()
	assert.Equal(t, "test", st.Name)
	assert.Equal(t, "closed", st.State)
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, 5, st.Threshold)
}
