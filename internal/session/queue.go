package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Submit when the transmit queue is at
// capacity. Callers are expected to back off; nothing is ever evicted.
var ErrQueueFull = errors.New("session: transmit queue full")

// item is one queued payload awaiting transmission.
type item struct {
	ID       uuid.UUID
	Payload  []byte
	QueuedAt time.Time
}

// queue is a bounded FIFO of pending payloads. Owned by the session's
// worker; no locking.
type queue struct {
	items []*item
	limit int
}

func newQueue(limit int) *queue {
	return &queue{limit: limit}
}

func (q *queue) push(payload []byte, now time.Time) (*item, error) {
	if len(q.items) >= q.limit {
		return nil, ErrQueueFull
	}
	it := &item{ID: uuid.New(), Payload: payload, QueuedAt: now}
	q.items = append(q.items, it)
	return it, nil
}

// peek returns the head without removing it, or nil when empty.
func (q *queue) peek() *item {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *queue) pop() *item {
	it := q.peek()
	if it != nil {
		q.items = q.items[1:]
	}
	return it
}

// cancel removes the payload with the given handle. The head is fair
// game too as long as it has not been handed to the radio yet.
func (q *queue) cancel(id uuid.UUID) bool {
	for i, it := range q.items {
		if it.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *queue) depth() int { return len(q.items) }
