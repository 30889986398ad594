package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wirebus/wirebus-go/contracts"
	"github.com/wirebus/wirebus-go/metrics"
	"github.com/wirebus/wirebus-go/topology"
)

// DefaultContentType marks bodies with no declared encoding.
const DefaultContentType = "application/octet-stream"

// Dispatcher turns outgoing messages into wire-level publishes. It borrows a
// channel per dispatch, correlates publisher confirms when asked to, and maps
// broker failures to the transport's error taxonomy. It never retries and
// keeps no state between dispatches.
type Dispatcher struct {
	cm       *ConnectionManager
	logger   *slog.Logger
	recorder metrics.Recorder
	delays   *delayScheduler
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherRecorder sets the metrics recorder
func WithDispatcherRecorder(recorder metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// NewDispatcher creates a dispatcher over the given connection manager.
func NewDispatcher(cm *ConnectionManager, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		cm:       cm,
		logger:   slog.Default(),
		recorder: &metrics.NoopRecorder{},
	}
	for _, opt := range options {
		opt(d)
	}
	d.delays = newDelayScheduler(cm, d.logger)
	return d
}

// Dispatch publishes one message to the resolved address. With requireConfirm
// the call blocks until the broker acks or nacks the publish, the context is
// done, or the channel dies; without it the call returns as soon as the frame
// is written.
//
// A nack or a failed write reports ErrDispatchRejected. A confirm lost to
// connection teardown or cancellation reports ErrDispatchIndeterminate: the
// message may or may not have been delivered, and only the caller knows
// whether its operation is safe to retry.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *contracts.OutgoingMessage, addr topology.RoutingAddress, requireConfirm bool) error {
	start := time.Now()

	target := addr
	if msg.Options.DeliverAfter > 0 {
		held, err := d.delays.holdingAddress(ctx, addr, msg.Options.DeliverAfter)
		if err != nil {
			d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeError, time.Since(start))
			return d.dispatchError(msg, addr, err)
		}
		target = held
	}

	ch, err := d.cm.Borrow()
	if err != nil {
		d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeError, time.Since(start))
		return d.dispatchError(msg, addr, err)
	}

	var waiter *pendingConfirm
	var tracker *confirmTracker
	if requireConfirm {
		tracker, err = ch.enableConfirms()
		if err != nil {
			d.cm.Release(ch, false)
			d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeError, time.Since(start))
			return d.dispatchError(msg, addr, err)
		}
		// Register before the frame write so the broker's confirm can never
		// arrive for an untracked sequence number.
		waiter, err = tracker.track(ch.nextSequence(), msg.ID)
		if err != nil {
			d.cm.Release(ch, false)
			d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeError, time.Since(start))
			return d.dispatchError(msg, addr, err)
		}
	}

	publishing := buildPublishing(msg)
	err = ch.ch.PublishWithContext(ctx, target.Exchange, target.RoutingKey, false, false, publishing)
	if err != nil {
		if waiter != nil {
			tracker.cancel(waiter.seq)
		}
		d.cm.Release(ch, false)
		d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeRejected, time.Since(start))
		return d.dispatchError(msg, addr, wrapReject(classifyBrokerError(err)))
	}
	d.cm.Release(ch, true)

	if !requireConfirm {
		d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeAck, time.Since(start))
		return nil
	}

	select {
	case result := <-waiter.done:
		if result.err != nil {
			d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeIndeterminate, time.Since(start))
			return d.dispatchError(msg, addr, result.err)
		}
		if !result.acked {
			d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeRejected, time.Since(start))
			return d.dispatchError(msg, addr, ErrDispatchRejected)
		}
		d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeAck, time.Since(start))
		return nil

	case <-ctx.Done():
		// The publish is on the wire; without its confirm the outcome is
		// unknowable. Remove the waiter so a late confirm resolves nothing.
		tracker.cancel(waiter.seq)
		d.recorder.RecordDispatch(addr.Exchange, metrics.OutcomeIndeterminate, time.Since(start))
		return d.dispatchError(msg, addr, wrapIndeterminate(ctx.Err()))
	}
}

func (d *Dispatcher) dispatchError(msg *contracts.OutgoingMessage, addr topology.RoutingAddress, cause error) error {
	err := &DispatchError{
		Exchange:   addr.Exchange,
		RoutingKey: addr.RoutingKey,
		MessageID:  msg.ID,
		Err:        cause,
		Timestamp:  time.Now(),
	}
	d.logger.Debug("dispatch failed",
		"messageId", msg.ID,
		"exchange", addr.Exchange,
		"routingKey", addr.RoutingKey,
		"error", cause)
	return err
}

// buildPublishing maps an outgoing message onto wire properties. The mapping
// is deterministic: the same message always produces the same frame apart
// from the timestamp.
func buildPublishing(msg *contracts.OutgoingMessage) amqp.Publishing {
	opts := msg.Options

	contentType := opts.ContentType
	headers := amqp.Table{}
	var enclosedType string
	if msg.Headers != nil {
		msg.Headers.Each(func(key, value string) {
			headers[key] = value
		})
		if contentType == "" {
			if v, ok := msg.Headers.Get(contracts.HeaderContentType); ok {
				contentType = v
			}
		}
		if v, ok := msg.Headers.Get(contracts.HeaderEnclosedType); ok {
			enclosedType = v
		}
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	deliveryMode := amqp.Persistent
	if opts.NonDurable {
		deliveryMode = amqp.Transient
	}

	headers[contracts.HeaderContentType] = contentType
	headers[contracts.HeaderNonDurable] = nonDurableMarker(opts.NonDurable)
	if opts.CorrelationID != "" {
		headers[contracts.HeaderCorrelationID] = opts.CorrelationID
	}
	if opts.ReplyTo != "" {
		headers[contracts.HeaderReplyTo] = opts.ReplyTo
	}

	publishing := amqp.Publishing{
		Headers:       headers,
		ContentType:   contentType,
		DeliveryMode:  deliveryMode,
		Priority:      opts.Priority,
		MessageId:     msg.ID,
		CorrelationId: opts.CorrelationID,
		ReplyTo:       opts.ReplyTo,
		Type:          enclosedType,
		Timestamp:     time.Now().UTC(),
		Body:          msg.Body,
	}
	if opts.TimeToLive > 0 {
		publishing.Expiration = strconv.FormatInt(opts.TimeToLive.Milliseconds(), 10)
	}
	return publishing
}

// nonDurableMarker renders the non-durable header the way consuming
// endpoints expect it: "True" for transient, "False" for durable.
func nonDurableMarker(nonDurable bool) string {
	if nonDurable {
		return "True"
	}
	return "False"
}

// wrapReject and wrapIndeterminate tie a taxonomy sentinel to its underlying
// cause so errors.Is matches both.
func wrapReject(cause error) error {
	if cause == nil {
		return ErrDispatchRejected
	}
	return fmt.Errorf("%w: %w", ErrDispatchRejected, cause)
}

func wrapIndeterminate(cause error) error {
	if cause == nil {
		return ErrDispatchIndeterminate
	}
	return fmt.Errorf("%w: %w", ErrDispatchIndeterminate, cause)
}
