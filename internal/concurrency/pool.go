package concurrency

import (
	"sync"
	"time"
)

// PoolStats describes the occupancy of a ResourcePool
type PoolStats struct {
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Total     int `json:"total"`
}

// ResourcePool hands out at most maxSize resources created lazily by a factory.
// Released resources are reused; Destroy runs the destructor over them.
type ResourcePool[R any] struct {
	mu        sync.Mutex
	idle      chan R
	freed     chan struct{}
	factory   func() (R, error)
	destroy   func(R)
	maxSize   int
	total     int
	destroyed bool
}

// NewResourcePool creates a pool. destroy may be nil.
func NewResourcePool[R any](maxSize int, factory func() (R, error), destroy func(R)) *ResourcePool[R] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &ResourcePool[R]{
		idle:    make(chan R, maxSize),
		freed:   make(chan struct{}, 1),
		factory: factory,
		destroy: destroy,
		maxSize: maxSize,
	}
}

// Acquire returns an idle resource or creates a new one while under capacity.
// It reports false when the pool is exhausted, destroyed, or the factory fails.
func (p *ResourcePool[R]) Acquire() (R, bool) {
	var zero R

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return zero, false
	}

	select {
	case r := <-p.idle:
		p.mu.Unlock()
		return r, true
	default:
	}

	if p.total >= p.maxSize {
		p.mu.Unlock()
		return zero, false
	}
	p.total++
	p.mu.Unlock()

	r, err := p.factory()
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.signalFreed()
		return zero, false
	}

	return r, true
}

// AcquireBlocking waits up to timeout for a resource
func (p *ResourcePool[R]) AcquireBlocking(timeout time.Duration) (R, bool) {
	if r, ok := p.Acquire(); ok {
		return r, true
	}

	var zero R
	if timeout <= 0 {
		return zero, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case r := <-p.idle:
			p.mu.Lock()
			destroyed := p.destroyed
			p.mu.Unlock()
			if destroyed {
				p.discard(r)
				return zero, false
			}
			return r, true
		case <-p.freed:
			if r, ok := p.Acquire(); ok {
				return r, true
			}
		case <-timer.C:
			return zero, false
		}

		if p.isDestroyed() {
			return zero, false
		}
	}
}

// Release returns r to the pool. Resources released after Destroy are destroyed.
func (p *ResourcePool[R]) Release(r R) {
	if p.isDestroyed() {
		p.discard(r)
		return
	}

	select {
	case p.idle <- r:
	default:
		// More releases than acquisitions; the extra resource is not pooled.
		p.discard(r)
	}
}

// Stats returns the current pool occupancy
func (p *ResourcePool[R]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	available := len(p.idle)
	return PoolStats{
		Available: available,
		InUse:     p.total - available,
		Total:     p.total,
	}
}

// Destroy runs the destructor over every idle resource and rejects future acquisitions
func (p *ResourcePool[R]) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()

	for {
		select {
		case r := <-p.idle:
			p.discard(r)
		default:
			return
		}
	}
}

func (p *ResourcePool[R]) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// discard destroys r and frees its slot
func (p *ResourcePool[R]) discard(r R) {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()

	if p.destroy != nil {
		p.destroy(r)
	}
	p.signalFreed()
}

func (p *ResourcePool[R]) signalFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}
