// Package concurrency provides the thread-safe building blocks used by the
// provider orchestration core.
//
// This package implements:
//   - AtomicCounter for lock-free request counters
//   - ConcurrentMap, ConcurrentQueue and ConcurrentCache for shared collections
//   - ResourcePool for bounded, reusable resources
//   - Mutex and Semaphore with timeout-aware acquisition
//
// Capacity exhaustion is reported with a sentinel (false or a zero value),
// never a panic, and every blocking call accepts a finite timeout or context.
package concurrency
