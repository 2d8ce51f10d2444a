package resiliency

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 2 * time.Minute
)

// CircuitBreaker opens after threshold consecutive failures and closes again
// once the open deadline passes. There is no half-open probe: the first
// request after the deadline is let through like any other.
type CircuitBreaker struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	name         string
	threshold    int
	openDuration time.Duration
	failures     int
	openUntil    time.Time
}

type BreakerOption func(*CircuitBreaker)

func WithBreakerClock(clock clockwork.Clock) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.clock = clock
	}
}

func NewCircuitBreaker(name string, threshold int, openDuration time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if openDuration <= 0 {
		openDuration = DefaultOpenDuration
	}
	cb := &CircuitBreaker{
		clock:        clockwork.NewRealClock(),
		name:         name,
		threshold:    threshold,
		openDuration: openDuration,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CanRequest reports whether the breaker is closed. It does not mutate state.
func (cb *CircuitBreaker) CanRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return !cb.clock.Now().Before(cb.openUntil)
}

func (cb *CircuitBreaker) MarkSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.openUntil = time.Time{}
}

// MarkFailure counts a failure. Reaching the threshold opens the breaker
// and restarts the count.
func (cb *CircuitBreaker) MarkFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.openUntil = cb.clock.Now().Add(cb.openDuration)
		cb.failures = 0
	}
}

// State returns "open" or "closed".
func (cb *CircuitBreaker) State() string {
	if cb.CanRequest() {
		return "closed"
	}
	return "open"
}
