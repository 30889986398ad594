package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wirebus/wirebus-go/topology"
)

// delayedQueueGrace is added to a holding queue's own expiry so the queue
// outlives the longest message it can hold.
const delayedQueueGrace = 300000

// redeclareInterval bounds how long a holding-queue declaration is trusted.
// Idle holding queues garbage-collect themselves via x-expires, so the cache
// must not outlive them.
const redeclareInterval = time.Minute

// delayScheduler routes messages with a delivery delay through per-duration
// holding queues. A holding queue has no consumers; its message TTL expires
// each message into the original target via dead-lettering.
type delayScheduler struct {
	cm     *ConnectionManager
	logger *slog.Logger

	mu       sync.Mutex
	declared map[string]time.Time
}

func newDelayScheduler(cm *ConnectionManager, logger *slog.Logger) *delayScheduler {
	return &delayScheduler{
		cm:       cm,
		logger:   logger,
		declared: make(map[string]time.Time),
	}
}

// holdingAddress returns the address of the holding queue for the given
// target and delay, declaring the queue when it is not known to exist.
// Delays are rounded up to whole seconds so queue names stay bounded.
func (s *delayScheduler) holdingAddress(ctx context.Context, target topology.RoutingAddress, delay time.Duration) (topology.RoutingAddress, error) {
	seconds := ceilSeconds(delay)
	name := delayQueueName(target, seconds)
	if err := s.ensureDeclared(ctx, name, target, seconds); err != nil {
		return topology.RoutingAddress{}, err
	}
	return topology.RoutingAddress{RoutingKey: name, Queue: name}, nil
}

func (s *delayScheduler) ensureDeclared(ctx context.Context, name string, target topology.RoutingAddress, seconds int64) error {
	s.mu.Lock()
	last, ok := s.declared[name]
	s.mu.Unlock()
	if ok && time.Since(last) < redeclareInterval {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := s.cm.Borrow()
	if err != nil {
		return err
	}

	args := delayQueueArguments(target, seconds)
	_, err = ch.ch.QueueDeclare(name, true, false, false, false, args)
	if err != nil {
		s.cm.Release(ch, false)
		return &TopologyError{
			Component: "queue",
			Name:      name,
			Op:        "declare",
			Err:       classifyBrokerError(err),
			Timestamp: time.Now(),
		}
	}
	s.cm.Release(ch, true)

	s.mu.Lock()
	s.declared[name] = time.Now()
	s.mu.Unlock()

	s.logger.Debug("declared delay holding queue",
		"queue", name,
		"targetExchange", target.Exchange,
		"targetRoutingKey", target.RoutingKey,
		"delaySeconds", seconds)
	return nil
}

// ceilSeconds rounds a delay up to whole seconds, with one second as the
// floor so a holding queue always has a nonzero TTL.
func ceilSeconds(delay time.Duration) int64 {
	seconds := int64(delay / time.Second)
	if delay%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// delayQueueArguments builds the holding queue's declaration arguments. The
// dead-letter routing key is always present, even when empty, so expired
// messages do not keep the holding queue's own name as their routing key.
func delayQueueArguments(target topology.RoutingAddress, seconds int64) amqp.Table {
	ttl := int(seconds * 1000)
	return amqp.Table{
		"x-message-ttl":             ttl,
		"x-dead-letter-exchange":    target.Exchange,
		"x-dead-letter-routing-key": target.RoutingKey,
		"x-expires":                 ttl + delayedQueueGrace,
	}
}

// delayQueueName derives a holding queue name from the eventual target. The
// exchange name, routing key, or both identify the target depending on how
// the topology routes.
func delayQueueName(target topology.RoutingAddress, seconds int64) string {
	dest := target.Exchange
	if dest == "" {
		dest = target.RoutingKey
	} else if target.RoutingKey != "" {
		dest = dest + "." + target.RoutingKey
	}
	return fmt.Sprintf("%s.delay.%ds", dest, seconds)
}
