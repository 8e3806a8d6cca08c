package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/metrics"
)

// DefaultConflictRetries bounds the replays of a write that keeps losing
// optimistic races.
const DefaultConflictRetries = 20

// Policy wraps store calls with a circuit breaker and bounded retries of
// transient failures. Retries never wait past the caller's deadline.
//
// Write conflicts (apperr.IsConflict) come from a healthy store under
// contention. They are replayed on their own ConflictRetries budget with
// ConflictBackoff and never count as breaker failures.
type Policy struct {
	MaxRetries      int
	Backoff         BackoffStrategy
	Breaker         *CircuitBreaker
	Logger          *zap.Logger
	ConflictRetries int
	ConflictBackoff BackoffStrategy

	sleep func(ctx context.Context, d time.Duration) error
}

func NewPolicy(maxRetries int, backoff BackoffStrategy, breaker *CircuitBreaker, logger *zap.Logger) *Policy {
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		MaxRetries: maxRetries,
		Backoff:    backoff,
		Breaker:    breaker,
		Logger:     logger,

		ConflictRetries: DefaultConflictRetries,
		ConflictBackoff: &ExponentialBackoff{
			Base:   time.Millisecond,
			Max:    20 * time.Millisecond,
			Factor: 2,
			Jitter: 0.5,
		},
		sleep: sleepContext,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// retry budget is spent. A spent budget or an open breaker surfaces as
// DEPENDENCY_UNAVAILABLE; cancellation surfaces as TIMEOUT. A spent conflict
// budget returns the last conflict as is.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	conflicts := 0
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperr.FromContext(err, op)
		}
		if p.Breaker != nil {
			if err := p.Breaker.Allow(); err != nil {
				metrics.StoreErrorsTotal.WithLabelValues(op, string(apperr.CodeDependencyUnavailable)).Inc()
				return apperr.Unavailable(err, op)
			}
		}

		err := fn(ctx)
		switch {
		case err == nil:
			p.success()
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			if p.Breaker != nil {
				p.Breaker.Release()
			}
			return apperr.FromContext(err, op)
		case !apperr.IsTransient(err):
			// The store answered; NotFound and validation failures say
			// nothing about its health.
			p.success()
			return err
		case apperr.IsConflict(err):
			if p.Breaker != nil {
				p.Breaker.Release()
			}
			metrics.StoreConflictsTotal.WithLabelValues(op).Inc()
			if conflicts >= p.ConflictRetries {
				p.Logger.Warn("store write kept conflicting",
					zap.String("operation", op),
					zap.Int("conflicts", conflicts+1))
				return err
			}
			delay := p.ConflictBackoff.Next(conflicts)
			conflicts++
			attempt--
			if err := p.sleep(ctx, delay); err != nil {
				return apperr.FromContext(err, op)
			}
			continue
		}

		if p.Breaker != nil {
			p.Breaker.Failure()
		}
		metrics.StoreErrorsTotal.WithLabelValues(op, string(apperr.CodeTransientStore)).Inc()

		if attempt >= p.MaxRetries {
			p.Logger.Warn("store call failed after retries",
				zap.String("operation", op),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return apperr.Unavailable(err, op)
		}

		delay := p.Backoff.Next(attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
			return apperr.Unavailable(err, op)
		}
		p.Logger.Debug("retrying store call",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		if err := p.sleep(ctx, delay); err != nil {
			return apperr.FromContext(err, op)
		}
	}
}

func (p *Policy) success() {
	if p.Breaker != nil {
		p.Breaker.Success()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
