package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wirebus/wirebus-go/contracts"
	"github.com/wirebus/wirebus-go/metrics"
)

const (
	// DefaultPrefetchMultiplier scales the broker prefetch window with the
	// handler concurrency so workers are never starved between acks.
	DefaultPrefetchMultiplier = 3

	// MaxPrefetch is the largest prefetch the protocol can express.
	MaxPrefetch = 65535

	resubscribeDelay = time.Second
)

// DeliveryHandler processes one incoming delivery. Returning nil acks the
// delivery and returning an error requeues it, unless the handler already
// settled it through the Delivery.
type DeliveryHandler func(ctx context.Context, delivery *Delivery) error

// Delivery is one in-flight message leased to a handler. It settles at most
// once; settlement against a channel that died and was recreated reports
// ErrStaleDeliveryTag because the broker has already requeued the message.
type Delivery struct {
	envelope *contracts.DeliveryEnvelope
	tag      uint64
	ch       *Channel
	cm       *ConnectionManager
	settled  atomic.Bool
}

// Envelope returns the decoded message.
func (d *Delivery) Envelope() *contracts.DeliveryEnvelope {
	return d.envelope
}

// Ack settles the delivery as processed.
func (d *Delivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if d.ch.Epoch() != d.cm.Epoch() {
		return ErrStaleDeliveryTag
	}
	if err := d.ch.ch.Ack(d.tag, false); err != nil {
		return classifyBrokerError(err)
	}
	return nil
}

// Nack settles the delivery as failed. With requeue the broker redelivers it,
// otherwise the message is dropped or dead-lettered per queue policy.
func (d *Delivery) Nack(requeue bool) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if d.ch.Epoch() != d.cm.Epoch() {
		return ErrStaleDeliveryTag
	}
	if err := d.ch.ch.Nack(d.tag, false, requeue); err != nil {
		return classifyBrokerError(err)
	}
	return nil
}

// Consumer is the receive pump for one input queue. It subscribes with manual
// acknowledgment, fans deliveries out to at most concurrency handlers, and
// resubscribes on a fresh channel whenever the current one dies. The pump
// itself never settles out of order; ordering below the concurrency limit is
// the handler's concern.
type Consumer struct {
	cm                 *ConnectionManager
	queue              string
	prefetchMultiplier int
	prefetchOverride   int
	hasOverride        bool
	concurrency        int
	idStrategy         contracts.MessageIDStrategy
	logger             *slog.Logger
	recorder           metrics.Recorder
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchMultiplier sets the factor applied to the concurrency limit to
// size the prefetch window.
func WithPrefetchMultiplier(multiplier int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchMultiplier = multiplier
	}
}

// WithPrefetchCount fixes the prefetch window, overriding the multiplier.
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchOverride = count
		c.hasOverride = true
	}
}

// WithConcurrency sets the maximum number of in-flight handlers.
func WithConcurrency(limit int) ConsumerOption {
	return func(c *Consumer) {
		c.concurrency = limit
	}
}

// WithMessageIDStrategy sets how incoming deliveries resolve their message id
func WithMessageIDStrategy(strategy contracts.MessageIDStrategy) ConsumerOption {
	return func(c *Consumer) {
		c.idStrategy = strategy
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithConsumerRecorder sets the metrics recorder
func WithConsumerRecorder(recorder metrics.Recorder) ConsumerOption {
	return func(c *Consumer) {
		c.recorder = recorder
	}
}

// NewConsumer creates a receive pump for the given queue.
func NewConsumer(cm *ConnectionManager, queue string, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		cm:                 cm,
		queue:              queue,
		prefetchMultiplier: DefaultPrefetchMultiplier,
		concurrency:        1,
		idStrategy:         contracts.DefaultMessageIDStrategy,
		logger:             slog.Default(),
		recorder:           &metrics.NoopRecorder{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// ComputePrefetch resolves the effective prefetch window. An explicit
// override wins; otherwise the window is multiplier times concurrency,
// clamped to what the protocol can express.
func ComputePrefetch(multiplier, concurrency, override int, hasOverride bool) int {
	if hasOverride {
		return override
	}
	prefetch := multiplier * concurrency
	if prefetch > MaxPrefetch {
		return MaxPrefetch
	}
	return prefetch
}

// Run consumes from the queue until the context is canceled or the manager
// shuts down, returning nil in both cases. It returns ErrCircuitTripped when
// the connection faults and ErrConfigurationConflict when the queue cannot
// be subscribed as declared.
func (c *Consumer) Run(ctx context.Context, handler DeliveryHandler) error {
	prefetch := ComputePrefetch(c.prefetchMultiplier, c.concurrency, c.prefetchOverride, c.hasOverride)
	c.logger.Info("receive pump starting",
		"queue", c.queue,
		"prefetch", prefetch,
		"concurrency", c.concurrency)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.cm.Done():
			return nil
		case <-c.cm.Faulted():
			return ErrCircuitTripped
		default:
		}

		ch, err := c.cm.Borrow()
		if err != nil {
			if errors.Is(err, ErrCircuitTripped) {
				return err
			}
			c.logger.Debug("receive pump waiting for connection", "queue", c.queue, "error", err)
			if !c.pause(ctx) {
				return nil
			}
			continue
		}

		err = c.pump(ctx, ch, prefetch, handler)
		// Consumer channels never go back to the pool; their unacked
		// deliveries must be requeued by closing them.
		c.cm.Release(ch, false)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrConfigurationConflict) || errors.Is(err, ErrCircuitTripped) {
			return err
		}
		c.logger.Warn("receive pump session ended", "queue", c.queue, "error", err)
		c.recorder.RecordError("consumer", "session")
		if !c.pause(ctx) {
			return nil
		}
	}
}

// pump runs one subscription on one channel. It returns nil on a clean stop
// and an error when the subscription must be rebuilt or abandoned.
func (c *Consumer) pump(ctx context.Context, ch *Channel, prefetch int, handler DeliveryHandler) error {
	if err := ch.ch.Qos(prefetch, 0, false); err != nil {
		return &ConsumerError{Queue: c.queue, Op: "qos", Err: classifyBrokerError(err), Timestamp: time.Now()}
	}

	tag := c.queue + "." + ch.ID()
	deliveries, err := ch.ch.Consume(c.queue, tag, false, false, false, false, nil)
	if err != nil {
		return &ConsumerError{Queue: c.queue, Op: "consume", Err: classifyBrokerError(err), Timestamp: time.Now()}
	}
	c.logger.Info("receive pump subscribed", "queue", c.queue, "consumerTag", tag)

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			// Stop the flow of new deliveries, then wait for in-flight
			// handlers via the deferred wg.Wait.
			_ = ch.ch.Cancel(tag, false)
			return nil

		case <-c.cm.Done():
			_ = ch.ch.Cancel(tag, false)
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				return &ConsumerError{Queue: c.queue, Op: "stream", Err: ErrConnectionLost, Timestamp: time.Now()}
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				c.handle(ctx, ch, d, handler)
			}(delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, ch *Channel, d amqp.Delivery, handler DeliveryHandler) {
	start := time.Now()

	envelope := envelopeFromDelivery(&d, c.queue)
	id := c.idStrategy(envelope)
	if id == "" {
		// Without an id the message cannot be correlated or retried safely;
		// redelivering it would loop forever.
		c.logger.Warn("discarding delivery with no resolvable message id",
			"queue", c.queue,
			"deliveryTag", d.DeliveryTag)
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("failed to discard delivery", "queue", c.queue, "error", err)
		}
		c.recorder.RecordDelivery(c.queue, metrics.OutcomePoison, time.Since(start))
		return
	}
	envelope.MessageID = id

	delivery := &Delivery{envelope: envelope, tag: d.DeliveryTag, ch: ch, cm: c.cm}
	outcome := c.invoke(ctx, delivery, handler)
	c.recorder.RecordDelivery(c.queue, outcome, time.Since(start))
}

// invoke runs the handler and settles the delivery when the handler did not.
// A panicking handler is contained: the delivery is requeued and the pump
// keeps running.
func (c *Consumer) invoke(ctx context.Context, delivery *Delivery, handler DeliveryHandler) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("delivery handler panicked",
				"queue", c.queue,
				"messageId", delivery.envelope.MessageID,
				"panic", r)
			if !delivery.settled.Load() {
				if err := delivery.Nack(true); err != nil {
					c.logger.Error("failed to requeue after panic", "queue", c.queue, "error", err)
				}
			}
			outcome = metrics.OutcomeError
		}
	}()

	err := handler(ctx, delivery)
	if delivery.settled.Load() {
		if err != nil {
			return metrics.OutcomeError
		}
		return metrics.OutcomeAck
	}

	if err != nil {
		c.logger.Warn("delivery handler failed",
			"queue", c.queue,
			"messageId", delivery.envelope.MessageID,
			"error", err)
		if nackErr := delivery.Nack(true); nackErr != nil {
			c.logger.Error("failed to requeue delivery", "queue", c.queue, "error", nackErr)
		}
		return metrics.OutcomeRequeue
	}
	if ackErr := delivery.Ack(); ackErr != nil {
		c.logger.Error("failed to ack delivery",
			"queue", c.queue,
			"messageId", delivery.envelope.MessageID,
			"error", ackErr)
		return metrics.OutcomeError
	}
	return metrics.OutcomeAck
}

func (c *Consumer) pause(ctx context.Context) bool {
	timer := time.NewTimer(resubscribeDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.cm.Done():
		return false
	case <-timer.C:
		return true
	}
}

// envelopeFromDelivery decodes wire properties into an envelope. Header
// values are coerced to strings in sorted key order so the result is
// deterministic; native properties win over their well-known header twins.
func envelopeFromDelivery(d *amqp.Delivery, queue string) *contracts.DeliveryEnvelope {
	headers := &contracts.Headers{}
	keys := make([]string, 0, len(d.Headers))
	for key := range d.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := d.Headers[key]
		if value == nil {
			headers.Set(key, "")
			continue
		}
		headers.Set(key, fmt.Sprint(value))
	}

	contentType := d.ContentType
	if contentType == "" {
		if v, ok := headers.Get(contracts.HeaderContentType); ok {
			contentType = v
		}
	}
	correlationID := d.CorrelationId
	if correlationID == "" {
		if v, ok := headers.Get(contracts.HeaderCorrelationID); ok {
			correlationID = v
		}
	}
	replyTo := d.ReplyTo
	if replyTo == "" {
		if v, ok := headers.Get(contracts.HeaderReplyTo); ok {
			replyTo = v
		}
	}

	return &contracts.DeliveryEnvelope{
		MessageID:     d.MessageId,
		ContentType:   contentType,
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
		Priority:      d.Priority,
		Expiration:    d.Expiration,
		Timestamp:     d.Timestamp,
		Redelivered:   d.Redelivered,
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		Queue:         queue,
		Headers:       headers,
		Body:          d.Body,
	}
}
