package concurrency

import "context"

// Semaphore is a counting semaphore with a fixed number of permits
type Semaphore struct {
	permits chan struct{}
}

// NewSemaphore creates a semaphore with n permits. n below one is raised to one.
func NewSemaphore(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{permits: make(chan struct{}, n)}
}

// Acquire blocks until a permit is available or ctx is done
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.permits <- struct{}{}:
		return nil
	default:
	}

	select {
	case s.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a permit only if one is free
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns one permit. Releasing with no permit held is a no-op.
func (s *Semaphore) Release() {
	select {
	case <-s.permits:
	default:
	}
}

// ReleaseMultiple returns up to n permits and reports how many were released
func (s *Semaphore) ReleaseMultiple(n int) int {
	released := 0
	for released < n {
		select {
		case <-s.permits:
			released++
		default:
			return released
		}
	}
	return released
}

// Drain releases every held permit and returns the count released
func (s *Semaphore) Drain() int {
	return s.ReleaseMultiple(cap(s.permits))
}

// AvailablePermits returns the number of permits not currently held
func (s *Semaphore) AvailablePermits() int {
	return cap(s.permits) - len(s.permits)
}

// Size returns the total number of permits
func (s *Semaphore) Size() int {
	return cap(s.permits)
}

// WithPermit runs fn while holding a permit
func (s *Semaphore) WithPermit(ctx context.Context, fn func() error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()

	return fn()
}
