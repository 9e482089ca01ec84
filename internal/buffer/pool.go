// Package buffer provides fixed-capacity pools of reference-counted, typed
// buffers and the bounded ring used to hand parsed frames downstream.
package buffer

import (
	"sync/atomic"

	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/metrics"
)

// Releaser is anything whose lifetime is managed by reference counting.
type Releaser interface {
	Release()
}

// Pool manages a fixed number of pre-allocated buffers of one type.
// Get never blocks: an empty pool returns ErrPoolExhausted.
type Pool[T any] struct {
	name     string
	capacity int
	reset    func(*T)
	logger   logger.Logger

	freeList chan *Buffer[T]
	inUse    atomic.Int64

	gets         atomic.Int64
	failures     atomic.Int64
	returns      atomic.Int64
	overReleases atomic.Int64
}

// PoolStats holds pool statistics
type PoolStats struct {
	Name         string `json:"name"`
	Capacity     int    `json:"capacity"`
	InUse        int    `json:"in_use"`
	Free         int    `json:"free"`
	Gets         int64  `json:"gets"`
	Failures     int64  `json:"failures"`
	Returns      int64  `json:"returns"`
	OverReleases int64  `json:"over_releases"`
}

// NewPool creates a pool of capacity buffers. reset, if non-nil, is applied
// to a buffer's value when its last reference is released.
func NewPool[T any](name string, capacity int, reset func(*T), log logger.Logger) *Pool[T] {
	if log == nil {
		log = logger.NewNullLogger()
	}
	p := &Pool[T]{
		name:     name,
		capacity: capacity,
		reset:    reset,
		logger:   log.WithField("pool", name),
		freeList: make(chan *Buffer[T], capacity),
	}

	for i := 0; i < capacity; i++ {
		p.freeList <- &Buffer[T]{pool: p}
	}

	return p
}

// Get returns a buffer holding one reference
func (p *Pool[T]) Get() (*Buffer[T], error) {
	select {
	case b := <-p.freeList:
		b.refs.Store(1)
		n := p.inUse.Add(1)
		p.gets.Add(1)
		metrics.SetPoolInUse(p.name, int(n))
		return b, nil
	default:
		p.failures.Add(1)
		metrics.IncrementPoolExhausted(p.name)
		p.logger.Debug("Pool exhausted")
		return nil, &ErrPoolExhaustedDetailed{
			Pool:     p.name,
			Capacity: p.capacity,
			InUse:    int(p.inUse.Load()),
		}
	}
}

func (p *Pool[T]) put(b *Buffer[T]) {
	if p.reset != nil {
		p.reset(&b.value)
	} else {
		var zero T
		b.value = zero
	}

	n := p.inUse.Add(-1)
	p.returns.Add(1)
	metrics.SetPoolInUse(p.name, int(n))

	select {
	case p.freeList <- b:
	default:
		// Only reachable if a foreign buffer is returned.
		p.logger.Warn("Pool free list full, dropping buffer")
	}
}

// Name returns the pool name
func (p *Pool[T]) Name() string {
	return p.name
}

// Capacity returns the number of buffers the pool owns
func (p *Pool[T]) Capacity() int {
	return p.capacity
}

// InUse returns the number of buffers currently handed out
func (p *Pool[T]) InUse() int {
	return int(p.inUse.Load())
}

// Free returns the number of buffers available to Get
func (p *Pool[T]) Free() int {
	return len(p.freeList)
}

// Stats returns pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Name:         p.name,
		Capacity:     p.capacity,
		InUse:        p.InUse(),
		Free:         p.Free(),
		Gets:         p.gets.Load(),
		Failures:     p.failures.Load(),
		Returns:      p.returns.Load(),
		OverReleases: p.overReleases.Load(),
	}
}
