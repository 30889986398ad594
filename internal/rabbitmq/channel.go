package rabbitmq

import (
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// confirmBuffer sizes the broker confirmation listener. The tracker drains it
// continuously; the buffer only smooths bursts.
const confirmBuffer = 16

// Channel wraps one AMQP channel borrowed from the ConnectionManager. A
// borrowed channel belongs to exactly one operation until it is released;
// the confirm tracker keeps running while the channel sits in the pool so
// confirms for already-released publishes still resolve.
type Channel struct {
	id    string
	epoch uint64

	ch *amqp.Channel

	confirmMu sync.Mutex
	confirms  *confirmTracker
}

func newChannel(ch *amqp.Channel, epoch uint64) *Channel {
	return &Channel{
		id:    uuid.New().String()[:8],
		epoch: epoch,
		ch:    ch,
	}
}

// ID returns the channel's identifier for logging.
func (c *Channel) ID() string {
	return c.id
}

// Epoch returns the connection generation this channel was created under.
func (c *Channel) Epoch() uint64 {
	return c.epoch
}

// enableConfirms puts the channel into confirm mode and starts the tracker.
// Safe to call repeatedly; the switch happens once per channel.
func (c *Channel) enableConfirms() (*confirmTracker, error) {
	c.confirmMu.Lock()
	defer c.confirmMu.Unlock()

	if c.confirms != nil {
		return c.confirms, nil
	}
	if err := c.ch.Confirm(false); err != nil {
		return nil, classifyBrokerError(err)
	}

	tracker := newConfirmTracker()
	confirmations := c.ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	go tracker.consume(confirmations)

	c.confirms = tracker
	return tracker, nil
}

// nextSequence returns the sequence number the next publish on this channel
// will be assigned. Valid only while the caller exclusively owns the channel.
func (c *Channel) nextSequence() uint64 {
	return c.ch.GetNextPublishSeqNo()
}

// QueueInspect passively checks that a queue exists and returns its depth and
// consumer count.
func (c *Channel) QueueInspect(name string) (amqp.Queue, error) {
	queue, err := c.ch.QueueInspect(name)
	if err != nil {
		return amqp.Queue{}, classifyBrokerError(err)
	}
	return queue, nil
}

// teardown closes the underlying channel. Closing makes the broker's
// confirmation stream end, which resolves any outstanding confirms as
// indeterminate.
func (c *Channel) teardown() {
	if c.ch == nil {
		return
	}
	_ = c.ch.Close()
}
