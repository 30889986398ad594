package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	t.Run("registers and records", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		recorder, err := NewPrometheusRecorder(registry, "wirebus")
		require.NoError(t, err)

		recorder.RecordDispatch("orders", OutcomeAck, 5*time.Millisecond)
		recorder.RecordDispatch("orders", OutcomeRejected, time.Millisecond)
		recorder.RecordDelivery("billing", OutcomeAck, 2*time.Millisecond)
		recorder.RecordConnectionState("connected")
		recorder.RecordError("dispatcher", "rejected")

		assert.Equal(t, 2, testutil.CollectAndCount(recorder.dispatchTimeSeconds))
		assert.Equal(t, 1, testutil.CollectAndCount(recorder.deliveryTimeSeconds))
		assert.Equal(t, float64(1), testutil.ToFloat64(recorder.connectionStates.WithLabelValues("connected")))
		assert.Equal(t, float64(1), testutil.ToFloat64(recorder.errorsTotal.WithLabelValues("dispatcher", "rejected")))
	})

	t.Run("double registration reuses existing collectors", func(t *testing.T) {
		registry := prometheus.NewRegistry()

		first, err := NewPrometheusRecorder(registry, "wirebus")
		require.NoError(t, err)
		second, err := NewPrometheusRecorder(registry, "wirebus")
		require.NoError(t, err)

		first.RecordDispatch("orders", OutcomeAck, time.Millisecond)
		second.RecordDispatch("orders", OutcomeAck, time.Millisecond)

		count := testutil.ToFloat64(first.errorsTotal.WithLabelValues("x", "y"))
		assert.Equal(t, float64(0), count)
		assert.Equal(t, 1, testutil.CollectAndCount(first.dispatchTimeSeconds))
	})
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = &NoopRecorder{}

	// Must not panic.
	r.RecordDispatch("orders", OutcomeAck, time.Second)
	r.RecordDelivery("billing", OutcomeRequeue, time.Second)
	r.RecordConnectionState("connected")
	r.RecordError("consumer", "poison")
}
