package rabbitmq

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// confirmResult is the broker's verdict on one tracked publish.
type confirmResult struct {
	acked bool
	err   error
}

// pendingConfirm correlates an outstanding publish to its waiter. The done
// channel is buffered so resolution never blocks on an abandoned waiter.
type pendingConfirm struct {
	seq       uint64
	messageID string
	done      chan confirmResult
}

// confirmTracker maps channel publish sequence numbers to waiters. Entries
// are registered before the frame is written and removed on ack, nack,
// cancellation, or channel teardown. Teardown resolves every remaining entry
// as indeterminate, atomically with closing the tracker to new registrations.
type confirmTracker struct {
	mu      sync.Mutex
	pending map[uint64]*pendingConfirm
	closed  bool
}

func newConfirmTracker() *confirmTracker {
	return &confirmTracker{pending: make(map[uint64]*pendingConfirm)}
}

// track registers a waiter for the given sequence number. It must be called
// before the corresponding frame is written so the broker's confirm cannot
// arrive first.
func (t *confirmTracker) track(seq uint64, messageID string) (*pendingConfirm, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrConnectionLost
	}
	p := &pendingConfirm{
		seq:       seq,
		messageID: messageID,
		done:      make(chan confirmResult, 1),
	}
	t.pending[seq] = p
	return p, nil
}

// cancel removes a waiter without resolving it, after a failed write or an
// abandoned wait. The in-flight publish stays indeterminate from the caller's
// point of view.
func (t *confirmTracker) cancel(seq uint64) {
	t.mu.Lock()
	delete(t.pending, seq)
	t.mu.Unlock()
}

// outstanding returns the number of unresolved confirms.
func (t *confirmTracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// consume resolves waiters from the broker's confirmation stream. The stream
// is closed by the library when the channel dies; at that point every
// remaining waiter resolves as indeterminate.
func (t *confirmTracker) consume(confirmations <-chan amqp.Confirmation) {
	for confirmation := range confirmations {
		t.resolve(confirmation.DeliveryTag, confirmation.Ack)
	}
	t.close()
}

func (t *confirmTracker) resolve(seq uint64, acked bool) {
	t.mu.Lock()
	p, ok := t.pending[seq]
	if ok {
		delete(t.pending, seq)
	}
	t.mu.Unlock()

	if ok {
		p.done <- confirmResult{acked: acked}
	}
}

func (t *confirmTracker) close() {
	t.mu.Lock()
	remaining := t.pending
	t.pending = make(map[uint64]*pendingConfirm)
	t.closed = true
	t.mu.Unlock()

	for _, p := range remaining {
		p.done <- confirmResult{err: ErrDispatchIndeterminate}
	}
}
