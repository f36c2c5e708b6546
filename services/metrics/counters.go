// Package metrics holds the process-wide request counters of the orchestrator.
package metrics

import (
	"time"

	"github.com/upb/provider-orchestrator/internal/concurrency"
)

// Counters tracks routing and call outcomes with lock-free counters
type Counters struct {
	totalRequests          *concurrency.AtomicCounter
	successes              *concurrency.AtomicCounter
	failures               *concurrency.AtomicCounter
	cumulativeResponseTime *concurrency.AtomicCounter // milliseconds
	since                  *concurrency.AtomicCounter // unix nanoseconds of the last reset
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	TotalRequests            int64     `json:"total_requests"`
	Successes                int64     `json:"successes"`
	Failures                 int64     `json:"failures"`
	CumulativeResponseTimeMs int64     `json:"cumulative_response_time_ms"`
	AverageResponseTimeMs    float64   `json:"average_response_time_ms"`
	SuccessRate              float64   `json:"success_rate"`
	Since                    time.Time `json:"since"`
}

// NewCounters creates zeroed counters
func NewCounters() *Counters {
	return &Counters{
		totalRequests:          concurrency.NewAtomicCounter(0),
		successes:              concurrency.NewAtomicCounter(0),
		failures:               concurrency.NewAtomicCounter(0),
		cumulativeResponseTime: concurrency.NewAtomicCounter(0),
		since:                  concurrency.NewAtomicCounter(time.Now().UnixNano()),
	}
}

// IncRequests counts one routed request
func (c *Counters) IncRequests() int64 {
	return c.totalRequests.Increment()
}

// RecordOutcome counts one reported upstream call
func (c *Counters) RecordOutcome(success bool, responseTime time.Duration) {
	if success {
		c.successes.Increment()
	} else {
		c.failures.Increment()
	}
	if responseTime > 0 {
		c.cumulativeResponseTime.Add(responseTime.Milliseconds())
	}
}

// Snapshot returns the current values.
// Counters are read individually, so a snapshot taken during updates may mix them.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		TotalRequests:            c.totalRequests.Get(),
		Successes:                c.successes.Get(),
		Failures:                 c.failures.Get(),
		CumulativeResponseTimeMs: c.cumulativeResponseTime.Get(),
		Since:                    time.Unix(0, c.since.Get()).UTC(),
	}

	if outcomes := s.Successes + s.Failures; outcomes > 0 {
		s.AverageResponseTimeMs = float64(s.CumulativeResponseTimeMs) / float64(outcomes)
		s.SuccessRate = float64(s.Successes) / float64(outcomes)
	}

	return s
}

// Reset zeroes every counter. It is an explicit operator action.
func (c *Counters) Reset() {
	c.totalRequests.Set(0)
	c.successes.Set(0)
	c.failures.Set(0)
	c.cumulativeResponseTime.Set(0)
	c.since.Set(time.Now().UnixNano())
}
