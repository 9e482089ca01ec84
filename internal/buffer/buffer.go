package buffer

import (
	"sync"
	"sync/atomic"
)

// Buffer is a pooled, reference-counted value. The holder of the last
// reference returns it to its pool; attached releasers are released first.
type Buffer[T any] struct {
	pool  *Pool[T]
	value T
	refs  atomic.Int32

	mu       sync.Mutex
	attached []Releaser
}

// Value returns the typed view of the buffer contents.
func (b *Buffer[T]) Value() *T {
	return &b.value
}

// Retain adds a reference and returns the buffer for chaining.
func (b *Buffer[T]) Retain() *Buffer[T] {
	b.refs.Add(1)
	return b
}

// Release drops one reference.
func (b *Buffer[T]) Release() {
	n := b.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		b.refs.Store(0)
		b.pool.overReleases.Add(1)
		b.pool.logger.Error("Buffer released more times than retained")
		return
	}

	b.mu.Lock()
	attached := b.attached
	b.attached = nil
	b.mu.Unlock()

	for i := len(attached) - 1; i >= 0; i-- {
		attached[i].Release()
	}

	b.pool.put(b)
}

// RefCount returns the current reference count.
func (b *Buffer[T]) RefCount() int {
	return int(b.refs.Load())
}

// Attach ties r's lifetime to this buffer. The buffer takes over one
// reference owned by the caller.
func (b *Buffer[T]) Attach(r Releaser) {
	if r == nil {
		return
	}
	b.mu.Lock()
	b.attached = append(b.attached, r)
	b.mu.Unlock()
}

// Detach removes r from the attachment list and releases it.
func (b *Buffer[T]) Detach(r Releaser) bool {
	b.mu.Lock()
	found := false
	for i, a := range b.attached {
		if a == r {
			b.attached = append(b.attached[:i], b.attached[i+1:]...)
			found = true
			break
		}
	}
	b.mu.Unlock()

	if found {
		r.Release()
	}
	return found
}

// Attached returns a snapshot of the attached releasers.
func (b *Buffer[T]) Attached() []Releaser {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Releaser, len(b.attached))
	copy(out, b.attached)
	return out
}

// AttachedOf returns the first attached buffer of type U, if any.
func AttachedOf[U any, T any](b *Buffer[T]) (*Buffer[U], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.attached {
		if u, ok := a.(*Buffer[U]); ok {
			return u, true
		}
	}
	return nil, false
}
