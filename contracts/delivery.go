package contracts

import "time"

// DeliveryEnvelope is the read-only view of an incoming delivery handed to
// message-identity strategies and handlers. Fields mirror the native protocol
// properties; Headers carries the full header table.
type DeliveryEnvelope struct {
	// MessageID is the message identity as resolved by the endpoint's
	// MessageIDStrategy. Before resolution it holds the native message-id
	// property, which may be empty.
	MessageID     string
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Priority      uint8
	Expiration    string
	Timestamp     time.Time
	Redelivered   bool
	Exchange      string
	RoutingKey    string
	Queue         string
	Headers       *Headers
	Body          []byte
}

// Delivery is one incoming message leased to a handler. A delivery settles at
// most once; handlers that do not settle leave the verdict to their return
// value.
type Delivery interface {
	Envelope() *DeliveryEnvelope

	// Ack settles the delivery as processed.
	Ack() error

	// Nack settles the delivery as failed, optionally requeueing it.
	Nack(requeue bool) error
}

// MessageIDStrategy derives the identity of an incoming message. It runs
// before the message reaches the handler; returning an empty string marks the
// delivery as unprocessable.
type MessageIDStrategy func(envelope *DeliveryEnvelope) string

// DefaultMessageIDStrategy uses the native message-id property and falls back
// to the correlation id header when the property is absent.
func DefaultMessageIDStrategy(envelope *DeliveryEnvelope) string {
	if envelope.MessageID != "" {
		return envelope.MessageID
	}
	if envelope.Headers != nil {
		if v, ok := envelope.Headers.Get(HeaderCorrelationID); ok {
			return v
		}
	}
	return ""
}
