// Package bus provides the bounded in-memory queue that moves signal
// events between pipeline stages without blocking producers.
package bus

import (
	"context"
	"sync/atomic"

	"main/internal/schema"
	"main/pkg/exception"
)

// Event is the unit passed through the in-memory bus.
type Event struct {
	Header schema.EventHeader
	Signal schema.CompactSignal
}

// Queue is a bounded, non-blocking signal event queue.
type Queue struct {
	ch      chan Event
	closed  uint32
	dropped atomic.Uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking. A full queue counts the
// event as dropped.
func (q *Queue) TryPublish(e Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrSignalQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		q.dropped.Add(1)
		return exception.ErrSignalQueueFull
	}
}

// TryConsume dequeues one event without blocking.
func (q *Queue) TryConsume() (Event, bool) {
	select {
	case e, ok := <-q.ch:
		if !ok {
			return Event{}, false
		}
		return e, true
	default:
		return Event{}, false
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns the number of events rejected because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops the queue from accepting new events. Events already buffered
// remain consumable.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes events until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
