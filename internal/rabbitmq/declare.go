package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wirebus/wirebus-go/topology"
)

// Declarer applies a topology's declarations to the broker. Declarations are
// idempotent on the broker side as long as attributes match; a mismatch with
// an existing entity is a configuration conflict and fatal.
type Declarer struct {
	cm     *ConnectionManager
	logger *slog.Logger
}

// DeclarerOption configures the Declarer
type DeclarerOption func(*Declarer)

// WithDeclarerLogger sets the logger
func WithDeclarerLogger(logger *slog.Logger) DeclarerOption {
	return func(d *Declarer) {
		d.logger = logger
	}
}

// NewDeclarer creates a declarer over the given connection manager.
func NewDeclarer(cm *ConnectionManager, options ...DeclarerOption) *Declarer {
	d := &Declarer{
		cm:     cm,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Declare creates every exchange, queue, and binding in the set, in that
// order so binding targets exist before they are referenced. The first
// failure aborts the pass; a precondition failure surfaces as
// ErrConfigurationConflict and must not be retried.
func (d *Declarer) Declare(ctx context.Context, decl topology.Declarations) error {
	ch, err := d.cm.Borrow()
	if err != nil {
		return err
	}

	for _, exchange := range decl.Exchanges {
		if err := ctx.Err(); err != nil {
			d.cm.Release(ch, true)
			return err
		}
		err := ch.ch.ExchangeDeclare(
			exchange.Name,
			exchange.Kind,
			exchange.Durable,
			exchange.AutoDelete,
			false, // internal
			false, // noWait
			amqp.Table(exchange.Arguments),
		)
		if err != nil {
			d.cm.Release(ch, false)
			return d.topologyError("exchange", exchange.Name, err)
		}
	}

	for _, queue := range decl.Queues {
		if err := ctx.Err(); err != nil {
			d.cm.Release(ch, true)
			return err
		}
		_, err := ch.ch.QueueDeclare(
			queue.Name,
			queue.Durable,
			queue.AutoDelete,
			queue.Exclusive,
			false, // noWait
			amqp.Table(queue.Arguments),
		)
		if err != nil {
			d.cm.Release(ch, false)
			return d.topologyError("queue", queue.Name, err)
		}
	}

	for _, binding := range decl.Bindings {
		if err := ctx.Err(); err != nil {
			d.cm.Release(ch, true)
			return err
		}
		if binding.TargetExchange != "" {
			err = ch.ch.ExchangeBind(binding.TargetExchange, binding.RoutingKey, binding.SourceExchange, false, nil)
			if err != nil {
				d.cm.Release(ch, false)
				return d.topologyError("binding", binding.SourceExchange+" -> "+binding.TargetExchange, err)
			}
			continue
		}
		err = ch.ch.QueueBind(binding.TargetQueue, binding.RoutingKey, binding.SourceExchange, false, nil)
		if err != nil {
			d.cm.Release(ch, false)
			return d.topologyError("binding", binding.SourceExchange+" -> "+binding.TargetQueue, err)
		}
	}

	d.cm.Release(ch, true)
	d.logger.Info("topology declared",
		"exchanges", len(decl.Exchanges),
		"queues", len(decl.Queues),
		"bindings", len(decl.Bindings))
	return nil
}

func (d *Declarer) topologyError(component, name string, err error) error {
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        "declare",
		Err:       classifyBrokerError(err),
		Timestamp: time.Now(),
	}
}
