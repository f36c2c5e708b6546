// Package batch runs independent tasks with a concurrency ceiling and per-task timeout.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/upb/provider-orchestrator/internal/concurrency"
	"github.com/upb/provider-orchestrator/services"
)

// ErrTaskPanic is the cause of the internal error reported for a task that panicked
var ErrTaskPanic = errors.New("task panicked")

// Task is one unit of work. It must honor ctx cancellation.
type Task[T any] func(ctx context.Context) (T, error)

// Options controls ExecuteParallel
type Options struct {
	// MaxConcurrency caps the number of tasks running at once
	MaxConcurrency int

	// Timeout bounds each task individually; zero means no per-task timeout
	Timeout time.Duration
}

// DefaultOptions returns a sensible default configuration
func DefaultOptions() Options {
	return Options{
		MaxConcurrency: 10,
		Timeout:        30 * time.Second,
	}
}

// Result is the outcome of the task at Index
type Result[T any] struct {
	Index    int
	Value    T
	Err      error
	TimedOut bool
	Duration time.Duration
}

// OK reports whether the task completed without error
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// ExecuteParallel runs every task and returns one result per task in input order.
// A failed, panicking, or timed-out task only affects its own slot. Once ctx is
// done, tasks that have not started yet fail with the context error.
func ExecuteParallel[T any](ctx context.Context, tasks []Task[T], opts Options) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	limit := opts.MaxConcurrency
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}
	sem := concurrency.NewSemaphore(limit)

	done := make(chan struct{}, len(tasks))
	started := 0

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			results[i] = Result[T]{Index: i, Err: err}
			continue
		}
		if err := sem.Acquire(ctx); err != nil {
			results[i] = Result[T]{Index: i, Err: err}
			continue
		}

		started++
		go func(i int, task Task[T]) {
			defer func() { done <- struct{}{} }()
			defer sem.Release()
			results[i] = run(ctx, i, task, opts.Timeout)
		}(i, task)
	}

	for j := 0; j < started; j++ {
		<-done
	}

	return results
}

// outcome carries a task's return values back to run
type outcome[T any] struct {
	value T
	err   error
}

func run[T any](parent context.Context, index int, task Task[T], timeout time.Duration) Result[T] {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()

	start := time.Now()
	ch := make(chan outcome[T], 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicErr := fmt.Errorf("%w: %v", ErrTaskPanic, r)
				ch <- outcome[T]{err: services.ErrInternal.Wrap(panicErr).WithDetail("stack", string(debug.Stack()))}
			}
		}()
		value, err := task(ctx)
		ch <- outcome[T]{value: value, err: err}
	}()

	select {
	case out := <-ch:
		return Result[T]{Index: index, Value: out.value, Err: out.err, Duration: time.Since(start)}
	case <-ctx.Done():
		// the task goroutine is abandoned; its buffered send never blocks
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result[T]{Index: index, Err: services.ErrTaskTimeout, TimedOut: true, Duration: time.Since(start)}
		}
		return Result[T]{Index: index, Err: parent.Err(), Duration: time.Since(start)}
	}
}
