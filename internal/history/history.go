package history

import (
	"sync"
)

// Ring is a thread-safe fixed-capacity FIFO. When full, the oldest
// entry is dropped silently. Both health monitors and the update
// executor keep their recent samples in one of these.
type Ring[T any] struct {
	mu       sync.Mutex
	data     []T
	start    int
	length   int
	capacity int
}

// New creates a Ring with the given capacity. Capacity must be
// positive; a non-positive value is treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Append adds an item, dropping the oldest one when full.
func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.length < r.capacity {
		r.data[(r.start+r.length)%r.capacity] = item
		r.length++
		return
	}
	r.data[r.start] = item
	r.start = (r.start + 1) % r.capacity
}

// Snapshot returns a copy of the contents, newest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.length)
	for i := 0; i < r.length; i++ {
		out[i] = r.data[(r.start+r.length-1-i)%r.capacity]
	}
	return out
}

// SnapshotOldestFirst returns a copy of the contents in insertion order.
func (r *Ring[T]) SnapshotOldestFirst() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.length)
	for i := 0; i < r.length; i++ {
		out[i] = r.data[(r.start+i)%r.capacity]
	}
	return out
}

// Latest returns the most recently appended item.
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.length == 0 {
		var zero T
		return zero, false
	}
	return r.data[(r.start+r.length-1)%r.capacity], true
}

// Len returns the current number of items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}
