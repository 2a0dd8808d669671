// Package queue is the bounded outbox between committed audit records and
// their publication.
//
// The store is the source of truth for audit records; the outbox only carries
// them to the publisher. A full or closed outbox refuses the record and the
// caller moves on.
package queue

import (
	"context"
	"sync"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// DefaultCapacity bounds the outbox when no capacity is configured.
const DefaultCapacity = 10000

// Event is the payload flowing through the outbox.
type Event = model.AuditRecord

// Queue provides non-blocking enqueue and channel-based dequeue.
type Queue interface {
	// Enqueue adds a record, returning ErrFull or ErrClosed when it cannot.
	Enqueue(ctx context.Context, e Event) error

	// Dequeue returns the channel records are read from.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Event

	// Len returns the number of pending records.
	Len(ctx context.Context) int

	// Close stops accepting records. Pending records stay readable.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue over a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates an outbox.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)
	metrics.UpdateOutboxSize(0)
	return q
}

// Enqueue adds a record without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordOutboxDropped()
		metrics.RecordErrorByComponent("outbox", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordOutboxDropped()
		metrics.RecordErrorByComponent("outbox", "context_cancelled")
		return err
	}

	select {
	case q.events <- e:
		metrics.UpdateOutboxSize(len(q.events))
		return nil
	default:
		metrics.RecordOutboxDropped()
		metrics.RecordErrorByComponent("outbox", "full")
		return ErrFull
	}
}

// Dequeue returns the outbox channel. Consumers stop on ctx themselves.
func (q *InMemoryQueue) Dequeue(context.Context) <-chan Event {
	return q.events
}

// Len returns the number of pending records.
func (q *InMemoryQueue) Len(context.Context) int {
	n := len(q.events)
	metrics.UpdateOutboxSize(n)
	return n
}

// Close stops accepting records.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
