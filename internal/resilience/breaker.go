package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/agenthands/partgraph/internal/metrics"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// CircuitBreaker opens after Threshold consecutive failures and rejects
// calls until Cooldown has elapsed. It then lets exactly one trial call
// through: success closes it, failure re-opens it.
type CircuitBreaker struct {
	Name      string
	Threshold int
	Cooldown  time.Duration
	Now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	b := &CircuitBreaker{
		Name:      name,
		Threshold: threshold,
		Cooldown:  cooldown,
		Now:       time.Now,
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Allow reports whether a call may proceed. Every nil return must be
// followed by exactly one of Success, Failure or Release.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.Now().Sub(b.openedAt) < b.Cooldown {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.trial = true
		return nil
	case StateHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
		return nil
	default:
		return nil
	}
}

func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	b.setState(StateClosed)
}

func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
	if b.state == StateHalfOpen {
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.Threshold {
		b.open()
	}
}

// Release ends an allowed call that produced no verdict on the store's
// health, such as one cancelled by its caller.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
}

func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.Now().Sub(b.openedAt) >= b.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

func (b *CircuitBreaker) open() {
	b.openedAt = b.Now()
	b.failures = 0
	b.setState(StateOpen)
}

func (b *CircuitBreaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	metrics.BreakerState.WithLabelValues(b.Name).Set(float64(s))
}
