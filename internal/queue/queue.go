package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO queue with an optional capacity.
// A bounded queue evicts its oldest item before appending to a full queue.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
}

// New creates a new empty queue. A capacity of zero or less means unbounded.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	initial := 0
	if capacity > 0 {
		initial = capacity
	}
	return &Queue[T]{
		items:    make([]T, 0, initial),
		capacity: capacity,
	}
}

// Push appends items to the queue, evicting the oldest items as needed to
// stay within capacity. It returns the number of evicted items.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := 0
	for _, item := range items {
		if q.capacity > 0 && len(q.items) == q.capacity {
			// Shift in place so the backing array does not grow.
			copy(q.items, q.items[1:])
			q.items = q.items[:len(q.items)-1]
			evicted++
		}
		q.items = append(q.items, item)
	}
	return evicted
}

// Pop removes and returns the first item. Returns zero value if empty.
func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Last returns the most recently pushed item.
func (q *Queue[T]) Last() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[len(q.items)-1], true
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity, or 0 for an unbounded queue.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Clear removes all items from the queue.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// Snapshot returns a copy of the items, oldest first.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// GetAndEmpty returns all items and clears the queue.
func (q *Queue[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}
