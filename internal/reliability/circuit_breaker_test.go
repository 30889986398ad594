package reliability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingListener struct {
	mu          sync.Mutex
	transitions []string
}

func (l *recordingListener) OnStateChange(from, to State, reason string) {
	l.mu.Lock()
	l.transitions = append(l.transitions, from.String()+"->"+to.String())
	l.mu.Unlock()
}

func (l *recordingListener) Transitions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.transitions...)
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cb := NewCircuitBreaker()

		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, 30*time.Second, cb.GracePeriod())
		assert.Equal(t, "connection", cb.Name())
	})

	t.Run("first failure arms the breaker without tripping", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1000, 0)}
		cb := NewCircuitBreaker(WithGracePeriod(30*time.Second), WithClock(clock.Now))

		tripped := cb.RecordFailure("dial refused")
		assert.False(t, tripped)
		assert.Equal(t, StateArmed, cb.State())
	})

	t.Run("failures within the grace period do not trip", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1000, 0)}
		cb := NewCircuitBreaker(WithGracePeriod(30*time.Second), WithClock(clock.Now))

		cb.RecordFailure("dial refused")
		for i := 0; i < 5; i++ {
			clock.Advance(5 * time.Second)
			assert.False(t, cb.RecordFailure("dial refused"))
		}
		assert.Equal(t, StateArmed, cb.State())
	})

	t.Run("success closes the failure window", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1000, 0)}
		cb := NewCircuitBreaker(WithGracePeriod(30*time.Second), WithClock(clock.Now))

		cb.RecordFailure("dial refused")
		clock.Advance(29 * time.Second)
		cb.RecordSuccess()
		assert.Equal(t, StateClosed, cb.State())

		// The window restarts from the next failure, so the old window's
		// elapsed time does not count.
		clock.Advance(10 * time.Second)
		assert.False(t, cb.RecordFailure("dial refused"))
		clock.Advance(29 * time.Second)
		assert.False(t, cb.RecordFailure("dial refused"))
		assert.Equal(t, StateArmed, cb.State())
	})

	t.Run("trips exactly once and signals exactly once", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1000, 0)}
		listener := &recordingListener{}
		cb := NewCircuitBreaker(
			WithGracePeriod(30*time.Second),
			WithClock(clock.Now),
			WithStateChangeListener(listener),
		)

		cb.RecordFailure("dial refused")
		clock.Advance(31 * time.Second)

		trippedNow := 0
		for i := 0; i < 10; i++ {
			if cb.RecordFailure("dial refused") {
				trippedNow++
			}
		}
		assert.Equal(t, 1, trippedNow, "only one RecordFailure call may report the trip")
		assert.Equal(t, StateTripped, cb.State())

		select {
		case <-cb.Tripped():
		default:
			t.Fatal("tripped channel not closed")
		}

		assert.Equal(t, []string{"closed->armed", "armed->tripped"}, listener.Transitions())
	})

	t.Run("tripped is terminal", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1000, 0)}
		cb := NewCircuitBreaker(WithGracePeriod(time.Second), WithClock(clock.Now))

		cb.RecordFailure("dial refused")
		clock.Advance(2 * time.Second)
		require.True(t, cb.RecordFailure("dial refused"))

		cb.RecordSuccess()
		assert.Equal(t, StateTripped, cb.State())
		assert.False(t, cb.RecordFailure("dial refused"))
	})

	t.Run("concurrent failures trip once", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1000, 0)}
		cb := NewCircuitBreaker(WithGracePeriod(time.Second), WithClock(clock.Now))

		cb.RecordFailure("dial refused")
		clock.Advance(2 * time.Second)

		var wg sync.WaitGroup
		var mu sync.Mutex
		trips := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if cb.RecordFailure("dial refused") {
					mu.Lock()
					trips++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, trips)
	})
}
