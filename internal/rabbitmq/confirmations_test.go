package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmTracker(t *testing.T) {
	t.Run("resolves waiters in publish order with their own verdicts", func(t *testing.T) {
		tracker := newConfirmTracker()

		first, err := tracker.track(1, "msg-1")
		require.NoError(t, err)
		second, err := tracker.track(2, "msg-2")
		require.NoError(t, err)
		third, err := tracker.track(3, "msg-3")
		require.NoError(t, err)

		confirmations := make(chan amqp.Confirmation, 3)
		confirmations <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
		confirmations <- amqp.Confirmation{DeliveryTag: 2, Ack: false}
		confirmations <- amqp.Confirmation{DeliveryTag: 3, Ack: true}
		close(confirmations)

		tracker.consume(confirmations)

		result := <-first.done
		assert.True(t, result.acked)
		assert.NoError(t, result.err)

		result = <-second.done
		assert.False(t, result.acked)
		assert.NoError(t, result.err)

		result = <-third.done
		assert.True(t, result.acked)
		assert.NoError(t, result.err)

		assert.Equal(t, 0, tracker.outstanding())
	})

	t.Run("closing the stream resolves outstanding confirms as indeterminate", func(t *testing.T) {
		tracker := newConfirmTracker()

		resolved, err := tracker.track(1, "msg-1")
		require.NoError(t, err)
		abandoned, err := tracker.track(2, "msg-2")
		require.NoError(t, err)

		confirmations := make(chan amqp.Confirmation, 1)
		confirmations <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
		close(confirmations)

		tracker.consume(confirmations)

		result := <-resolved.done
		assert.True(t, result.acked)

		result = <-abandoned.done
		require.Error(t, result.err)
		assert.ErrorIs(t, result.err, ErrDispatchIndeterminate)
	})

	t.Run("track fails once the stream has closed", func(t *testing.T) {
		tracker := newConfirmTracker()

		confirmations := make(chan amqp.Confirmation)
		close(confirmations)
		tracker.consume(confirmations)

		_, err := tracker.track(1, "msg-1")
		assert.ErrorIs(t, err, ErrConnectionLost)
	})

	t.Run("canceled waiters are never resolved", func(t *testing.T) {
		tracker := newConfirmTracker()

		waiter, err := tracker.track(1, "msg-1")
		require.NoError(t, err)
		tracker.cancel(1)
		assert.Equal(t, 0, tracker.outstanding())

		// A late confirm for the canceled tag must resolve nothing.
		tracker.resolve(1, true)

		select {
		case <-waiter.done:
			t.Fatal("canceled waiter should not resolve")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("unknown tags are ignored", func(t *testing.T) {
		tracker := newConfirmTracker()
		tracker.resolve(42, true)
		assert.Equal(t, 0, tracker.outstanding())
	})
}
