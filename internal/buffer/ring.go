package buffer

import "sync"

// Ring is a bounded FIFO that fails fast when full.
type Ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	count  int
	closed bool

	pushed  int64
	dropped int64
}

// RingStats holds ring statistics
type RingStats struct {
	Capacity int   `json:"capacity"`
	Len      int   `json:"len"`
	Pushed   int64 `json:"pushed"`
	Dropped  int64 `json:"dropped"`
}

// NewRing creates a ring with room for capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, returning ErrRingFull or ErrRingClosed instead of blocking.
func (r *Ring[T]) Push(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRingClosed
	}
	if r.count == len(r.items) {
		r.dropped++
		return ErrRingFull
	}

	r.items[(r.head+r.count)%len(r.items)] = v
	r.count++
	r.pushed++
	return nil
}

// Pop removes the oldest item.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}

	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.count--
	return v, true
}

// Drain removes and returns every queued item in order.
func (r *Ring[T]) Drain() []T {
	var out []T
	for {
		v, ok := r.Pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Len returns the number of queued items
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Free returns the remaining capacity
func (r *Ring[T]) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items) - r.count
}

// Close rejects further pushes; queued items can still be popped.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Stats returns ring statistics
func (r *Ring[T]) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Capacity: len(r.items),
		Len:      r.count,
		Pushed:   r.pushed,
		Dropped:  r.dropped,
	}
}
