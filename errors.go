package wirebus

import "github.com/wirebus/wirebus-go/internal/rabbitmq"

// The transport's error taxonomy, re-exported so callers never import
// internal packages. Match with errors.Is and errors.As.
var (
	// ErrConfigurationConflict marks conflicting settings or declarations
	// that disagree with what already exists on the broker. Fatal; never
	// retried.
	ErrConfigurationConflict = rabbitmq.ErrConfigurationConflict

	// ErrNotConnected means the connection is not currently usable. The
	// manager is connecting or recovering; retry later.
	ErrNotConnected = rabbitmq.ErrNotConnected

	// ErrConnectionLost means the link died mid-operation. Recovery runs
	// automatically.
	ErrConnectionLost = rabbitmq.ErrConnectionLost

	// ErrConnectionTimeout means a dial attempt exceeded its deadline.
	ErrConnectionTimeout = rabbitmq.ErrConnectionTimeout

	// ErrCircuitTripped means the outage outlasted the grace period and the
	// endpoint is shutting down.
	ErrCircuitTripped = rabbitmq.ErrCircuitTripped

	// ErrEndpointClosed means the endpoint was closed by its owner.
	ErrEndpointClosed = rabbitmq.ErrManagerClosed

	// ErrDispatchRejected means the broker refused the publish; the message
	// was not delivered.
	ErrDispatchRejected = rabbitmq.ErrDispatchRejected

	// ErrDispatchIndeterminate means the publish outcome is unknown; only
	// the caller knows whether retrying is safe.
	ErrDispatchIndeterminate = rabbitmq.ErrDispatchIndeterminate

	// ErrStaleDeliveryTag means a delivery was settled after its channel
	// died; the broker has already requeued the message.
	ErrStaleDeliveryTag = rabbitmq.ErrStaleDeliveryTag

	// ErrAlreadySettled means a delivery was acked or nacked twice.
	ErrAlreadySettled = rabbitmq.ErrAlreadySettled
)

// Structured error types carried inside the taxonomy.
type (
	ConnectionError = rabbitmq.ConnectionError
	DispatchError   = rabbitmq.DispatchError
	TopologyError   = rabbitmq.TopologyError
	ConsumerError   = rabbitmq.ConsumerError
)

// ConnectionState reports where the broker link is in its lifecycle.
type ConnectionState = rabbitmq.ConnectionState

const (
	StateDisconnected = rabbitmq.StateDisconnected
	StateConnecting   = rabbitmq.StateConnecting
	StateConnected    = rabbitmq.StateConnected
	StateRecovering   = rabbitmq.StateRecovering
	StateFaulted      = rabbitmq.StateFaulted
)

// IsTransient reports whether the error may clear on its own through
// recovery. Configuration conflicts and a tripped breaker never do.
func IsTransient(err error) bool {
	return rabbitmq.IsTransient(err)
}
