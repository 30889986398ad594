// Package metrics defines the transport's instrumentation interface plus a
// no-op and a Prometheus implementation. The transport records through the
// Recorder interface only, so applications can plug in their own collector.
package metrics

import "time"

// Dispatch and delivery outcome labels.
const (
	OutcomeAck           = "ack"
	OutcomeRejected      = "rejected"
	OutcomeIndeterminate = "indeterminate"
	OutcomeError         = "error"
	OutcomeRequeue       = "requeue"
	OutcomePoison        = "poison"
)

// Recorder collects transport metrics
type Recorder interface {
	// RecordDispatch records one publish attempt and its outcome
	RecordDispatch(exchange string, outcome string, duration time.Duration)

	// RecordDelivery records one consumed message and how it was settled
	RecordDelivery(queue string, outcome string, duration time.Duration)

	// RecordConnectionState records a connection state transition
	RecordConnectionState(state string)

	// RecordError records a transport-level error
	RecordError(component string, errorType string)
}

// NoopRecorder discards all metrics
type NoopRecorder struct{}

// RecordDispatch does nothing
func (n *NoopRecorder) RecordDispatch(exchange string, outcome string, duration time.Duration) {}

// RecordDelivery does nothing
func (n *NoopRecorder) RecordDelivery(queue string, outcome string, duration time.Duration) {}

// RecordConnectionState does nothing
func (n *NoopRecorder) RecordConnectionState(state string) {}

// RecordError does nothing
func (n *NoopRecorder) RecordError(component string, errorType string) {}
