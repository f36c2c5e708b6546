package routing

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/services"
	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/services/providers"
)

// recordingReporter captures reported outcomes in order
type recordingReporter struct {
	mu       sync.Mutex
	outcomes []reportedOutcome
	err      error
}

func (r *recordingReporter) RecordOutcome(id string, success bool, rt time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, reportedOutcome{providerID: id, success: success})
	return r.err
}

// scriptedCalls fails or succeeds per provider and records the call order
type scriptedCalls struct {
	mu     sync.Mutex
	errs   map[string]error
	called []string
}

func (s *scriptedCalls) call(ctx context.Context, p providers.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called = append(s.called, p.ID)
	return s.errs[p.ID]
}

func newTestDispatcher(t *testing.T, hs *stubHealth, reporter OutcomeReporter) *Dispatcher {
	t.Helper()
	registry, err := providers.NewRegistry(
		provider("a", 0.00001, 1),
		provider("b", 0.00002, 2),
		provider("c", 0.00003, 3),
	)
	require.NoError(t, err)
	return NewDispatcher(registry, hs, reporter, zap.NewNop())
}

func allOperational() *stubHealth {
	hs := newStubHealth()
	for _, id := range []string{"a", "b", "c"} {
		hs.set(id, health.StatusOperational, 100*time.Millisecond, 1)
	}
	return hs
}

func testDecision() *Decision {
	return &Decision{ID: "d-1", SelectedProvider: "a", Alternatives: []string{"b", "c"}}
}

func TestDispatcher_PrimarySucceeds(t *testing.T) {
	reporter := &recordingReporter{}
	d := newTestDispatcher(t, allOperational(), reporter)
	calls := &scriptedCalls{}

	result, err := d.Dispatch(context.Background(), testDecision(), calls.call)
	require.NoError(t, err)

	assert.Equal(t, "a", result.ProviderID)
	assert.Len(t, result.Attempts, 1)
	assert.Equal(t, []string{"a"}, calls.called)
	assert.Equal(t, []reportedOutcome{{"a", true}}, reporter.outcomes)
}

func TestDispatcher_FallsBackInOrder(t *testing.T) {
	reporter := &recordingReporter{}
	d := newTestDispatcher(t, allOperational(), reporter)
	calls := &scriptedCalls{errs: map[string]error{
		"a": providers.NewProviderError("a", "rate_limited", "slow down", http.StatusTooManyRequests, true, nil),
	}}

	result, err := d.Dispatch(context.Background(), testDecision(), calls.call)
	require.NoError(t, err)

	assert.Equal(t, "b", result.ProviderID)
	assert.Equal(t, []string{"a", "b"}, calls.called)
	require.Len(t, result.Attempts, 2)
	assert.Contains(t, result.Attempts[0].Error, "slow down")
	assert.Empty(t, result.Attempts[1].Error)
	assert.Equal(t, []reportedOutcome{{"a", false}, {"b", true}}, reporter.outcomes)
}

func TestDispatcher_SkipsDownProviders(t *testing.T) {
	hs := allOperational()
	hs.set("a", health.StatusDown, 0, 0.2)
	reporter := &recordingReporter{}
	d := newTestDispatcher(t, hs, reporter)
	calls := &scriptedCalls{}

	result, err := d.Dispatch(context.Background(), testDecision(), calls.call)
	require.NoError(t, err)

	assert.Equal(t, "b", result.ProviderID)
	assert.Equal(t, []string{"b"}, calls.called, "down provider is never called")
	require.Len(t, result.Attempts, 2)
	assert.True(t, result.Attempts[0].Skipped)
	assert.Equal(t, []reportedOutcome{{"b", true}}, reporter.outcomes)
}

func TestDispatcher_AllFail(t *testing.T) {
	reporter := &recordingReporter{}
	d := newTestDispatcher(t, allOperational(), reporter)
	last := errors.New("c exploded")
	calls := &scriptedCalls{errs: map[string]error{
		"a": errors.New("a failed"),
		"b": errors.New("b failed"),
		"c": last,
	}}

	result, err := d.Dispatch(context.Background(), testDecision(), calls.call)
	require.Error(t, err)

	assert.ErrorIs(t, err, services.ErrAllProvidersUnavailable)
	assert.ErrorIs(t, err, last)
	assert.True(t, services.IsUnavailableError(err))
	assert.Equal(t, []string{"a", "b", "c"}, calls.called)
	assert.Len(t, result.Attempts, 3)
	assert.Empty(t, result.ProviderID)
	assert.Len(t, reporter.outcomes, 3)
}

func TestDispatcher_EveryProviderSkipped(t *testing.T) {
	hs := newStubHealth()
	for _, id := range []string{"a", "b", "c"} {
		hs.set(id, health.StatusDown, 0, 0)
	}
	d := newTestDispatcher(t, hs, &recordingReporter{})
	calls := &scriptedCalls{}

	decision := testDecision()
	decision.Alternatives = append(decision.Alternatives, "ghost")

	result, err := d.Dispatch(context.Background(), decision, calls.call)
	assert.ErrorIs(t, err, services.ErrAllProvidersUnavailable)
	assert.Empty(t, calls.called)
	require.Len(t, result.Attempts, 4)
	assert.Equal(t, "unknown provider", result.Attempts[3].Error)
}

func TestDispatcher_ReporterErrorDoesNotFailDispatch(t *testing.T) {
	reporter := &recordingReporter{err: services.ErrUnknownProvider}
	d := newTestDispatcher(t, allOperational(), reporter)
	calls := &scriptedCalls{}

	result, err := d.Dispatch(context.Background(), testDecision(), calls.call)
	require.NoError(t, err)
	assert.Equal(t, "a", result.ProviderID)
}

func TestDispatcher_CancelledContext(t *testing.T) {
	d := newTestDispatcher(t, allOperational(), &recordingReporter{})
	calls := &scriptedCalls{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, testDecision(), calls.call)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls.called)
}

func TestDispatcher_FeedsEngineHealth(t *testing.T) {
	hs := allOperational()
	engine, counters := newTestEngine(t, hs,
		provider("a", 0.00001, 1),
		provider("b", 0.00002, 2),
		provider("c", 0.00003, 3),
	)
	d := newTestDispatcher(t, hs, engine)

	decision, err := engine.Route(context.Background(), baseRequest("dispatch me"))
	require.NoError(t, err)
	require.Equal(t, "a", decision.SelectedProvider)

	calls := &scriptedCalls{errs: map[string]error{"a": errors.New("boom")}}
	result, err := d.Dispatch(context.Background(), decision, calls.call)
	require.NoError(t, err)
	assert.Equal(t, "b", result.ProviderID)

	status, err := hs.GetStatus(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, health.StatusDegraded, status.Status)

	snapshot := counters.Snapshot()
	assert.Equal(t, int64(1), snapshot.Successes)
	assert.Equal(t, int64(1), snapshot.Failures)
}
