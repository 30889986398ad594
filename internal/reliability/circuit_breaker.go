package reliability

import (
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed means the link is healthy.
	StateClosed State = iota
	// StateArmed means a failure window is open; the breaker trips if the
	// link does not recover before the grace period elapses.
	StateArmed
	// StateTripped is terminal. The breaker never resets.
	StateTripped
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateArmed:
		return "armed"
	case StateTripped:
		return "tripped"
	default:
		return "unknown"
	}
}

// StateChangeListener receives circuit breaker state change notifications
type StateChangeListener interface {
	OnStateChange(from, to State, reason string)
}

// CircuitBreaker watches a single link and trips once when failures persist
// past a grace period. Unlike a request-level breaker there is no half-open
// probing: tripping is terminal and signals the owner to shut down.
//
// The window opens on the first failure after a success and closes on any
// success. A failure observed while the window has been open longer than the
// grace period trips the breaker.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	lastSuccess time.Time
	windowStart time.Time

	// Configuration
	gracePeriod time.Duration
	name        string
	now         func() time.Time

	tripped chan struct{}

	// Listeners
	listeners []StateChangeListener
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithGracePeriod sets how long failures may persist before the breaker trips
func WithGracePeriod(period time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.gracePeriod = period
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithStateChangeListener registers a state change listener
func WithStateChangeListener(listener StateChangeListener) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.listeners = append(cb.listeners, listener)
	}
}

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:       StateClosed,
		gracePeriod: 30 * time.Second,
		name:        "connection",
		now:         time.Now,
		tripped:     make(chan struct{}),
	}

	for _, opt := range options {
		opt(cb)
	}

	cb.lastSuccess = cb.now()
	return cb
}

// RecordSuccess closes any open failure window. Ignored once tripped.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	if cb.state == StateTripped {
		cb.mu.Unlock()
		return
	}
	from := cb.state
	cb.state = StateClosed
	cb.lastSuccess = cb.now()
	cb.windowStart = time.Time{}
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notifyStateChange(from, StateClosed, "recovered")
	}
}

// RecordFailure opens the failure window on the first failure and trips the
// breaker when the window outlives the grace period. It returns true only on
// the call that performed the trip, so the caller signals shutdown exactly
// once.
func (cb *CircuitBreaker) RecordFailure(reason string) bool {
	cb.mu.Lock()
	switch cb.state {
	case StateTripped:
		cb.mu.Unlock()
		return false

	case StateClosed:
		cb.state = StateArmed
		cb.windowStart = cb.now()
		cb.mu.Unlock()
		cb.notifyStateChange(StateClosed, StateArmed, reason)
		return false

	default: // StateArmed
		if cb.now().Sub(cb.windowStart) < cb.gracePeriod {
			cb.mu.Unlock()
			return false
		}
		cb.state = StateTripped
		close(cb.tripped)
		cb.mu.Unlock()
		cb.notifyStateChange(StateArmed, StateTripped, reason)
		return true
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Tripped returns a channel closed exactly once when the breaker trips.
func (cb *CircuitBreaker) Tripped() <-chan struct{} {
	return cb.tripped
}

// GracePeriod returns the configured grace period
func (cb *CircuitBreaker) GracePeriod() time.Duration {
	return cb.gracePeriod
}

// LastSuccess returns when the link last worked
func (cb *CircuitBreaker) LastSuccess() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastSuccess
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) notifyStateChange(from, to State, reason string) {
	for _, listener := range cb.listeners {
		listener.OnStateChange(from, to, reason)
	}
}
