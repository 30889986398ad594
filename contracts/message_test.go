package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewOutgoingMessage(t *testing.T) {
	t.Run("generates unique IDs", func(t *testing.T) {
		m1 := NewOutgoingMessage([]byte("a"))
		m2 := NewOutgoingMessage([]byte("b"))

		assert.NotEmpty(t, m1.ID)
		assert.NotEmpty(t, m2.ID)
		assert.NotEqual(t, m1.ID, m2.ID)
	})

	t.Run("defaults are durable with zero priority", func(t *testing.T) {
		m := NewOutgoingMessage(nil)

		assert.False(t, m.Options.NonDurable)
		assert.Equal(t, uint8(0), m.Options.Priority)
		assert.Equal(t, time.Duration(0), m.Options.TimeToLive)
		assert.NotNil(t, m.Headers)
		assert.Equal(t, 0, m.Headers.Len())
	})
}

func TestDefaultMessageIDStrategy(t *testing.T) {
	t.Run("prefers the native message id", func(t *testing.T) {
		env := &DeliveryEnvelope{MessageID: "native-id", Headers: NewHeaders()}
		env.Headers.Set(HeaderCorrelationID, "corr-id")

		assert.Equal(t, "native-id", DefaultMessageIDStrategy(env))
	})

	t.Run("falls back to the correlation header", func(t *testing.T) {
		env := &DeliveryEnvelope{Headers: NewHeaders()}
		env.Headers.Set(HeaderCorrelationID, "corr-id")

		assert.Equal(t, "corr-id", DefaultMessageIDStrategy(env))
	})

	t.Run("returns empty when nothing identifies the message", func(t *testing.T) {
		env := &DeliveryEnvelope{Headers: NewHeaders()}

		assert.Equal(t, "", DefaultMessageIDStrategy(env))
	})

	t.Run("tolerates nil headers", func(t *testing.T) {
		env := &DeliveryEnvelope{}

		assert.Equal(t, "", DefaultMessageIDStrategy(env))
	})
}
