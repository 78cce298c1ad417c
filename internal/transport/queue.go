package transport

import (
	"sync"

	"github.com/roach88/emagent/internal/wire"
)

// outboundQueue is a bounded, thread-safe FIFO of envelopes waiting for a
// connection.
//
// Each Client owns exactly one queue. Push never blocks: a full queue rejects
// the new envelope and the caller reports it as dropped. PushFront puts back a
// message that failed to flush so ordering is preserved on the next attempt,
// even if that temporarily exceeds capacity by one.
type outboundQueue struct {
	mu       sync.Mutex
	items    []wire.Envelope
	capacity int
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &outboundQueue{
		items:    make([]wire.Envelope, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

// Push appends e to the back. Returns false if the queue is full.
func (q *outboundQueue) Push(e wire.Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, e)
	return true
}

// PushFront returns e to the head of the queue.
func (q *outboundQueue) PushFront(e wire.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, wire.Envelope{})
	copy(q.items[1:], q.items)
	q.items[0] = e
}

// Pop removes and returns the front envelope.
// Returns (Envelope{}, false) if the queue is empty.
func (q *outboundQueue) Pop() (wire.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return wire.Envelope{}, false
	}

	e := q.items[0]

	// Clear the slot so the payload map can be collected.
	q.items[0] = wire.Envelope{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return e, true
}

// Len returns the number of queued envelopes.
func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *outboundQueue) Cap() int {
	return q.capacity
}
