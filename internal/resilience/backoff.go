package resilience

import (
	"math/rand"
	"time"
)

// BackoffStrategy computes the wait before retry attempt n (0-based).
type BackoffStrategy interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff waits Base*Factor^attempt, capped at Max, with a
// symmetric random jitter of up to Jitter (0.0 to 1.0) of the delay.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff: Base 50ms, Max 2s, Factor 2, Jitter 0.2.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   50 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		return b.Base
	}

	delay := float64(b.Base)
	for i := 0; i < attempt; i++ {
		delay *= b.Factor
		if delay > float64(b.Max) {
			break
		}
	}
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.Jitter > 0 {
		delay += delay * (rand.Float64()*2 - 1) * b.Jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
