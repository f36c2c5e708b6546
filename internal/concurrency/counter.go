package concurrency

import "sync/atomic"

// AtomicCounter is a linearizable int64 counter
type AtomicCounter struct {
	value atomic.Int64
}

// NewAtomicCounter creates a counter starting at initial
func NewAtomicCounter(initial int64) *AtomicCounter {
	c := &AtomicCounter{}
	c.value.Store(initial)
	return c
}

// Increment adds one and returns the new value
func (c *AtomicCounter) Increment() int64 {
	return c.value.Add(1)
}

// Decrement subtracts one and returns the new value
func (c *AtomicCounter) Decrement() int64 {
	return c.value.Add(-1)
}

// Add adds delta and returns the new value
func (c *AtomicCounter) Add(delta int64) int64 {
	return c.value.Add(delta)
}

// Get returns the current value
func (c *AtomicCounter) Get() int64 {
	return c.value.Load()
}

// Set replaces the current value
func (c *AtomicCounter) Set(v int64) {
	c.value.Store(v)
}

// CompareAndSet sets the value to update only if it currently equals expected
func (c *AtomicCounter) CompareAndSet(expected, update int64) bool {
	return c.value.CompareAndSwap(expected, update)
}
