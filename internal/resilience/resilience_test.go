package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
)

func TestExponentialBackoffNext(t *testing.T) {
	b := &ExponentialBackoff{
		Base:   100 * time.Millisecond,
		Max:    1 * time.Second,
		Factor: 2.0,
		Jitter: 0.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second},
		{40, 1 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, b.Next(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	b := &ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.1}
	for i := 0; i < 100; i++ {
		got := b.Next(0)
		assert.GreaterOrEqual(t, got, 90*time.Millisecond)
		assert.LessOrEqual(t, got, 110*time.Millisecond)
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewCircuitBreaker("test", threshold, cooldown)
	b.Now = clock.Now
	return b, clock
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	b, clock := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Failure()
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clock.now = clock.now.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// Exactly one trial call passes while half-open.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.Failure()
	assert.Equal(t, StateOpen, b.State())

	clock.now = clock.now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestCircuitBreakerSuccessResetsRun(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
}

func TestCircuitBreakerReleaseFreesTrial(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	b.Failure()
	clock.now = clock.now.Add(2 * time.Second)

	require.NoError(t, b.Allow())
	b.Release()
	assert.NoError(t, b.Allow())
}

func newTestPolicy(retries int, breaker *CircuitBreaker) *Policy {
	p := NewPolicy(retries, &ExponentialBackoff{Base: time.Millisecond, Max: time.Millisecond, Factor: 1}, breaker, zap.NewNop())
	p.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return p
}

func TestPolicyRetriesTransientFailures(t *testing.T) {
	p := newTestPolicy(3, nil)
	calls := 0
	err := p.Do(context.Background(), "merge", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperr.Transient(errors.New("conflict"), "merge")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicyExhaustionIsDependencyUnavailable(t *testing.T) {
	p := newTestPolicy(2, nil)
	calls := 0
	err := p.Do(context.Background(), "merge", func(ctx context.Context) error {
		calls++
		return apperr.Transient(errors.New("connection refused"), "merge")
	})
	assert.Equal(t, apperr.CodeDependencyUnavailable, apperr.CodeOf(err))
	assert.Equal(t, 3, calls)
}

func TestPolicyDoesNotRetryPermanentErrors(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	p := newTestPolicy(5, b)
	calls := 0
	err := p.Do(context.Background(), "get", func(ctx context.Context) error {
		calls++
		return apperr.NotFound("part missing")
	})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, b.State())
}

func TestPolicyFailsFastWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	p := newTestPolicy(5, b)
	calls := 0
	err := p.Do(context.Background(), "merge", func(ctx context.Context) error {
		calls++
		return apperr.Transient(errors.New("down"), "merge")
	})
	assert.Equal(t, apperr.CodeDependencyUnavailable, apperr.CodeOf(err))
	assert.Equal(t, 2, calls)

	err = p.Do(context.Background(), "merge", func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestPolicyRespectsDeadline(t *testing.T) {
	p := NewPolicy(5, &ExponentialBackoff{Base: time.Hour, Max: time.Hour, Factor: 1}, nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Do(ctx, "merge", func(ctx context.Context) error {
		return apperr.Transient(errors.New("busy"), "merge")
	})
	assert.Equal(t, apperr.CodeDependencyUnavailable, apperr.CodeOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPolicyCancelledContext(t *testing.T) {
	p := newTestPolicy(3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Do(ctx, "get", func(ctx context.Context) error { return nil })
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
}

func TestPolicyConflictsSpareTheBreaker(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	p := newTestPolicy(1, b)
	calls := 0
	err := p.Do(context.Background(), "merge", func(ctx context.Context) error {
		calls++
		if calls <= 10 {
			return apperr.Conflict(errors.New("Transaction Conflict. Please retry"), "merge")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 11, calls)
	assert.Equal(t, StateClosed, b.State())
}

func TestPolicyConflictBudget(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	p := newTestPolicy(3, b)
	p.ConflictRetries = 4
	calls := 0
	err := p.Do(context.Background(), "merge", func(ctx context.Context) error {
		calls++
		return apperr.Conflict(errors.New("Transaction Conflict. Please retry"), "merge")
	})
	assert.Equal(t, apperr.CodeTransientStore, apperr.CodeOf(err))
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, 5, calls)
	assert.Equal(t, StateClosed, b.State())
}
