package concurrency

import "time"

// Mutex is a mutual-exclusion lock that supports non-blocking and
// timeout-bounded acquisition. The zero value is not usable; call NewMutex.
type Mutex struct {
	ch chan struct{}
}

// NewMutex creates an unlocked Mutex
func NewMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is held
func (m *Mutex) Lock() {
	m.ch <- struct{}{}
}

// Unlock releases the mutex. Unlocking an unlocked mutex is a no-op.
func (m *Mutex) Unlock() {
	select {
	case <-m.ch:
	default:
	}
}

// TryAcquire takes the mutex only if it is free
func (m *Mutex) TryAcquire() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire waits up to timeout for the mutex
func (m *Mutex) Acquire(timeout time.Duration) bool {
	if m.TryAcquire() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Locked reports whether the mutex is currently held
func (m *Mutex) Locked() bool {
	return len(m.ch) == 1
}

// WithLock runs fn while holding the mutex and always releases it,
// including when fn returns an error or panics.
func (m *Mutex) WithLock(fn func() error) error {
	m.Lock()
	defer m.Unlock()

	return fn()
}
