package contracts

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryOptions carries the per-message delivery semantics applied at
// dispatch time. The zero value means: durable, priority 0, no expiration,
// no delay, default content type.
type DeliveryOptions struct {
	// NonDurable marks the message transient. Messages are durable unless
	// this is set, matching the endpoint default.
	NonDurable bool

	// Priority is forwarded to the broker unchanged. Values above a queue's
	// configured maximum are the broker's to interpret.
	Priority uint8

	// TimeToLive discards the message if it is not consumed within the
	// duration. Zero means no expiration.
	TimeToLive time.Duration

	// DeliverAfter holds the message in a delay queue before it becomes
	// visible to consumers. Zero means immediate delivery.
	DeliverAfter time.Duration

	// ReplyTo names the address replies should be sent to.
	ReplyTo string

	// CorrelationID relates this message to an earlier one.
	CorrelationID string

	// ContentType describes the body encoding. Empty defaults to
	// application/octet-stream on the wire.
	ContentType string
}

// OutgoingMessage is a message handed to the transport for dispatch. The body
// is opaque; the transport never inspects it.
type OutgoingMessage struct {
	// ID identifies the message. A retry of the same logical send must reuse
	// the ID so broker-side deduplication stays possible.
	ID      string
	Body    []byte
	Headers *Headers
	Options DeliveryOptions
}

// NewOutgoingMessage creates a message with a generated ID, empty headers, and
// default delivery options.
func NewOutgoingMessage(body []byte) *OutgoingMessage {
	return &OutgoingMessage{
		ID:      uuid.New().String(),
		Body:    body,
		Headers: NewHeaders(),
	}
}
