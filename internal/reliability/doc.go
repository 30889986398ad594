// Package reliability holds the grace-period circuit breaker guarding the
// broker connection.
//
// Unlike a request-counting breaker, this one watches elapsed time: the first
// failure after a healthy period arms it, a success disarms it, and once
// failures have persisted past the grace period it trips. Tripping is
// terminal and signaled exactly once; the owning endpoint is expected to shut
// down rather than limp along against a broker it cannot reach.
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithGracePeriod(30 * time.Second),
//	    WithName("broker-link"),
//	)
//
//	if cb.RecordFailure("connection refused") {
//	    // tripped: begin orderly shutdown
//	}
package reliability
