package concurrency

import "time"

// ConcurrentQueue is a bounded FIFO queue backed by a buffered channel
type ConcurrentQueue[T any] struct {
	items chan T
}

// NewConcurrentQueue creates a queue holding at most capacity items.
// A capacity below one is raised to one.
func NewConcurrentQueue[T any](capacity int) *ConcurrentQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ConcurrentQueue[T]{
		items: make(chan T, capacity),
	}
}

// Enqueue appends item and returns false when the queue is full
func (q *ConcurrentQueue[T]) Enqueue(item T) bool {
	select {
	case q.items <- item:
		return true
	default:
		return false
	}
}

// Dequeue removes the oldest item without blocking
func (q *ConcurrentQueue[T]) Dequeue() (T, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// DequeueBlocking waits up to timeout for an item
func (q *ConcurrentQueue[T]) DequeueBlocking(timeout time.Duration) (T, bool) {
	if item, ok := q.Dequeue(); ok {
		return item, true
	}
	if timeout <= 0 {
		var zero T
		return zero, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-q.items:
		return item, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// Size returns the number of queued items
func (q *ConcurrentQueue[T]) Size() int {
	return len(q.items)
}

// Capacity returns the maximum number of queued items
func (q *ConcurrentQueue[T]) Capacity() int {
	return cap(q.items)
}

// IsEmpty reports whether the queue holds no items
func (q *ConcurrentQueue[T]) IsEmpty() bool {
	return len(q.items) == 0
}
