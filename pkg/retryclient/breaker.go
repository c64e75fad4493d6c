package retryclient

import (
	"sync"
	"time"
)

// BreakerState is one of the three classic circuit breaker states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Breaker is a per-provider circuit breaker: closed -> open after
// FailThreshold consecutive failures; open -> half-open after Cooldown; one
// success in half-open closes it, one failure reopens it (§4.3).
type Breaker struct {
	mu            sync.Mutex
	failThreshold int
	cooldown      time.Duration

	state       BreakerState
	failures    int
	openedAt    time.Time
	onTransition func(from, to BreakerState)
}

// NewBreaker creates a closed circuit breaker.
func NewBreaker(failThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failThreshold: failThreshold,
		cooldown:      cooldown,
		state:         StateClosed,
	}
}

// OnTransition registers a callback invoked whenever the breaker changes
// state, used to drive the CircuitBreakerStateChanges metric.
func (b *Breaker) OnTransition(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a call may proceed, transitioning open->half-open
// once the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker (from any state).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached, or immediately reopens from half-open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		b.openedAt = time.Now()
		return
	}

	b.failures++
	if b.failures >= b.failThreshold {
		b.transition(StateOpen)
		b.openedAt = time.Now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if from != to && b.onTransition != nil {
		b.onTransition(from, to)
	}
}
