package rabbitmq

import (
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// Configuration errors
	ErrConfigurationConflict = errors.New("rabbitmq: configuration conflict")

	// Connection errors
	ErrNotConnected      = errors.New("rabbitmq: not connected")
	ErrConnectionLost    = errors.New("rabbitmq: connection lost")
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")
	ErrCircuitTripped    = errors.New("rabbitmq: circuit breaker tripped")
	ErrManagerClosed     = errors.New("rabbitmq: connection manager closed")

	// Dispatch errors
	ErrDispatchRejected      = errors.New("rabbitmq: dispatch rejected by broker")
	ErrDispatchIndeterminate = errors.New("rabbitmq: dispatch outcome indeterminate")

	// Consumer errors
	ErrStaleDeliveryTag = errors.New("rabbitmq: stale delivery tag from a recreated channel")
	ErrAlreadySettled   = errors.New("rabbitmq: delivery already settled")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
	Attempts  int       // Number of attempts made
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("rabbitmq connection error: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DispatchError represents a failed or unresolved dispatch
type DispatchError struct {
	Exchange   string    // Target exchange
	RoutingKey string    // Routing key used
	MessageID  string    // Message being dispatched
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("rabbitmq dispatch error: message %s to %s/%s: %v",
		e.MessageID, e.Exchange, e.RoutingKey, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// TopologyError represents a failed topology declaration
type TopologyError struct {
	Component string    // Component type (exchange, queue, binding)
	Name      string    // Component name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to %s %s '%s': %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// ConsumerError represents a consumer-related error
type ConsumerError struct {
	Queue     string    // Queue name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("rabbitmq consumer error: %s failed on queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// classifyBrokerError maps protocol-level failures into the transport's
// taxonomy. A precondition failure (conflicting redeclaration) is a
// configuration conflict and fatal; everything else on a dead channel or
// connection counts as connection loss, which recovery absorbs.
func classifyBrokerError(err error) error {
	if err == nil {
		return nil
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.PreconditionFailed, amqp.AccessRefused:
			return fmt.Errorf("%w: %v", ErrConfigurationConflict, amqpErr)
		}
		// Protocol violations and broker-initiated closes are treated as
		// connection loss so recovery gets a chance to clear them.
		return fmt.Errorf("%w: %v", ErrConnectionLost, amqpErr)
	}
	if errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return err
}

// IsTransient reports whether recovery may clear the error. Configuration
// conflicts and a tripped breaker are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrConfigurationConflict):
		return false
	case errors.Is(err, ErrCircuitTripped):
		return false
	case errors.Is(err, ErrManagerClosed):
		return false
	}
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrConnectionTimeout)
}

// SanitizeURL strips credentials from a connection URL for logging.
func SanitizeURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd < 0 {
		return url
	}
	rest := url[schemeEnd+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return url
	}
	return url[:schemeEnd+3] + "***@" + rest[at+1:]
}
