package bus

import (
	"context"
	"sync"

	"trading/pkg/exception"
)

// Queue is a bounded, non-blocking queue drained by a single consumer.
type Queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPublish enqueues v without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Len is the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new items. Queued items are still drained by Run.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Run consumes items until the context is done or the queue is closed and drained.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-q.ch:
			if !ok {
				return
			}
			handler(v)
		}
	}
}
