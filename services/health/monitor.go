// Package health maintains the near-real-time operational status of every provider.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/upb/provider-orchestrator/internal/concurrency"
	"github.com/upb/provider-orchestrator/services"
	"github.com/upb/provider-orchestrator/services/batch"
	"github.com/upb/provider-orchestrator/services/providers"
)

// Prober performs one out-of-band liveness check against a provider
type Prober interface {
	Probe(ctx context.Context, provider providers.Provider) (time.Duration, error)
}

// Config holds health monitor settings
type Config struct {
	// CacheTTL bounds how long a status is served without probing
	CacheTTL time.Duration

	// LatencyThreshold separates operational from degraded responses
	LatencyThreshold time.Duration

	// DownAfterFailures consecutive reported failures mark a provider down
	DownAfterFailures int

	// Smoothing is the moving-average factor applied to every sample
	Smoothing float64

	// RefreshInterval is the background probe period; zero disables it
	RefreshInterval time.Duration

	// ProbeTimeout bounds a single probe
	ProbeTimeout time.Duration

	// ProbeConcurrency caps parallel probes in GetAllStatuses and Refresh
	ProbeConcurrency int
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:          60 * time.Second,
		LatencyThreshold:  2 * time.Second,
		DownAfterFailures: 3,
		Smoothing:         0.1,
		RefreshInterval:   30 * time.Second,
		ProbeTimeout:      5 * time.Second,
		ProbeConcurrency:  8,
	}
}

// Monitor owns every ProviderStatus. Updates to one provider are serialized;
// different providers are probed and updated concurrently.
type Monitor struct {
	registry *providers.Registry
	prober   Prober
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	statuses *concurrency.ConcurrentMap[string, ProviderStatus]
	cache    *concurrency.ConcurrentCache[string, ProviderStatus]
	locks    *concurrency.ConcurrentMap[string, *concurrency.Mutex]
	inflight singleflight.Group

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewMonitor creates a health monitor over the providers of registry
func NewMonitor(registry *providers.Registry, prober Prober, config Config, logger *zap.Logger) *Monitor {
	defaults := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.LatencyThreshold <= 0 {
		config.LatencyThreshold = defaults.LatencyThreshold
	}
	if config.DownAfterFailures <= 0 {
		config.DownAfterFailures = defaults.DownAfterFailures
	}
	if config.Smoothing <= 0 || config.Smoothing > 1 {
		config.Smoothing = defaults.Smoothing
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.ProbeConcurrency <= 0 {
		config.ProbeConcurrency = defaults.ProbeConcurrency
	}

	return &Monitor{
		registry: registry,
		prober:   prober,
		config:   config,
		logger:   logger,
		now:      time.Now,
		statuses: concurrency.NewConcurrentMap[string, ProviderStatus](),
		cache:    concurrency.NewConcurrentCache[string, ProviderStatus](0),
		locks:    concurrency.NewConcurrentMap[string, *concurrency.Mutex](),
	}
}

// GetStatus returns the cached status of a provider, probing it on a cache miss.
// Concurrent misses for one provider share a single probe.
func (m *Monitor) GetStatus(ctx context.Context, providerID string) (ProviderStatus, error) {
	provider, ok := m.registry.Get(providerID)
	if !ok {
		return ProviderStatus{}, unknownProvider(providerID)
	}

	if status, ok := m.cache.Get(providerID); ok {
		return status, nil
	}

	return m.probeShared(ctx, provider), nil
}

// Probe forces a fresh probe of a provider, bypassing the status cache
func (m *Monitor) Probe(ctx context.Context, providerID string) (ProviderStatus, error) {
	provider, ok := m.registry.Get(providerID)
	if !ok {
		return ProviderStatus{}, unknownProvider(providerID)
	}
	return m.probeShared(ctx, provider), nil
}

// GetAllStatuses returns the status of every provider in registry order,
// probing cache misses with bounded concurrency.
func (m *Monitor) GetAllStatuses(ctx context.Context) []ProviderStatus {
	return m.collect(ctx, m.GetStatus)
}

// Refresh probes every provider regardless of the cache
func (m *Monitor) Refresh(ctx context.Context) []ProviderStatus {
	return m.collect(ctx, m.Probe)
}

// Snapshot returns the current record of every provider without probing
func (m *Monitor) Snapshot() []ProviderStatus {
	ids := m.registry.IDs()
	out := make([]ProviderStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.current(id))
	}
	return out
}

// RecordOutcome folds the result of a real upstream call into the provider status.
// A success follows the probe latency rule; failures degrade the provider and
// mark it down after DownAfterFailures consecutive failures.
func (m *Monitor) RecordOutcome(providerID string, success bool, responseTime time.Duration) (ProviderStatus, error) {
	if _, ok := m.registry.Get(providerID); !ok {
		return ProviderStatus{}, unknownProvider(providerID)
	}

	return m.update(providerID, func(s *ProviderStatus) {
		if success {
			m.applySuccess(s, responseTime)
			return
		}

		s.SuccessRate = ema(s.SuccessRate, 0, m.config.Smoothing)
		s.ErrorRate = ema(s.ErrorRate, 1, m.config.Smoothing)
		s.ConsecutiveFailures++
		s.LastError = "reported call failure"
		if s.ConsecutiveFailures >= m.config.DownAfterFailures {
			s.Status = StatusDown
		} else {
			s.Status = StatusDegraded
		}
	}), nil
}

// Start launches the background refresh loop
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.config.RefreshInterval <= 0 {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)
	go m.refreshLoop(ctx)

	m.logger.Info("health monitor started",
		zap.Duration("refresh_interval", m.config.RefreshInterval),
		zap.Int("providers", m.registry.Count()),
	)
}

// Stop halts the background refresh loop and waits for it to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) refreshLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			statuses := m.Refresh(ctx)
			m.logger.Debug("health refresh completed", zap.Int("providers", len(statuses)))
		case <-ctx.Done():
			return
		}
	}
}

// collect runs fetch for every provider through the batch executor.
// A slot that outlives its deadline counts as a failed probe.
func (m *Monitor) collect(ctx context.Context, fetch func(context.Context, string) (ProviderStatus, error)) []ProviderStatus {
	ids := m.registry.IDs()

	tasks := make([]batch.Task[ProviderStatus], len(ids))
	for i, id := range ids {
		id := id
		tasks[i] = func(taskCtx context.Context) (ProviderStatus, error) {
			status, err := fetch(taskCtx, id)
			if err == nil && ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
				return status, services.ErrTaskTimeout
			}
			return status, err
		}
	}

	// the slot deadline leaves room for the probe's own deadline to fire first
	results := batch.ExecuteParallel(ctx, tasks, batch.Options{
		MaxConcurrency: m.config.ProbeConcurrency,
		Timeout:        m.config.ProbeTimeout + m.config.ProbeTimeout/2,
	})

	out := make([]ProviderStatus, len(ids))
	for i, r := range results {
		if r.Err == nil {
			out[i] = r.Value
			continue
		}

		if errors.Is(r.Err, services.ErrTaskTimeout) && ctx.Err() == nil {
			m.logger.Warn("health probe timed out", zap.String("provider_id", ids[i]))
			out[i] = m.update(ids[i], func(s *ProviderStatus) {
				m.applyProbeFailure(s, "probe timed out")
			})
			continue
		}

		// callers always receive a status; fall back to the last known record
		m.logger.Warn("health probe did not complete",
			zap.String("provider_id", ids[i]),
			zap.Error(r.Err),
		)
		out[i] = m.current(ids[i])
	}
	return out
}

// probeShared collapses concurrent probes of one provider into a single call.
// The probe is detached from the caller's cancellation since its result is shared.
func (m *Monitor) probeShared(ctx context.Context, provider providers.Provider) ProviderStatus {
	ch := m.inflight.DoChan(provider.ID, func() (interface{}, error) {
		return m.probe(context.WithoutCancel(ctx), provider), nil
	})

	select {
	case res := <-ch:
		return res.Val.(ProviderStatus)
	case <-ctx.Done():
		return m.current(provider.ID)
	}
}

func (m *Monitor) probe(ctx context.Context, provider providers.Provider) ProviderStatus {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	rt, err := m.prober.Probe(ctx, provider)
	if providers.IsProbeSkipped(err) {
		// the provider was never contacted; keep the previous record
		m.logger.Debug("health probe skipped",
			zap.String("provider_id", provider.ID),
			zap.Error(err),
		)
		return m.current(provider.ID)
	}

	return m.update(provider.ID, func(s *ProviderStatus) {
		if err != nil {
			m.applyProbeFailure(s, err.Error())
			return
		}
		m.applySuccess(s, rt)
	})
}

func (m *Monitor) applyProbeFailure(s *ProviderStatus, reason string) {
	s.SuccessRate = ema(s.SuccessRate, 0, m.config.Smoothing)
	s.ErrorRate = ema(s.ErrorRate, 1, m.config.Smoothing)
	s.ConsecutiveFailures++
	s.LastError = reason
	s.Status = StatusDown
}

func (m *Monitor) applySuccess(s *ProviderStatus, responseTime time.Duration) {
	s.SuccessRate = ema(s.SuccessRate, 1, m.config.Smoothing)
	s.ErrorRate = ema(s.ErrorRate, 0, m.config.Smoothing)
	s.ConsecutiveFailures = 0
	s.LastError = ""
	if responseTime > 0 {
		s.ResponseTime = responseTime
	}

	if responseTime < m.config.LatencyThreshold {
		s.Status = StatusOperational
	} else {
		s.Status = StatusDegraded
	}
}

// update applies fn to the record of providerID under its per-provider lock,
// stores the result and refreshes the status cache.
func (m *Monitor) update(providerID string, fn func(*ProviderStatus)) ProviderStatus {
	var updated ProviderStatus

	_ = m.lockFor(providerID).WithLock(func() error {
		current, ok := m.statuses.Get(providerID)
		if !ok {
			current = newStatus(providerID)
		}
		previous := current.Status

		fn(&current)
		current.LastChecked = m.now()

		m.statuses.Set(providerID, current)
		m.cache.Set(providerID, current, m.config.CacheTTL)
		updated = current

		if previous != current.Status {
			m.logger.Info("provider status changed",
				zap.String("provider_id", providerID),
				zap.String("from", string(previous)),
				zap.String("to", string(current.Status)),
				zap.Float64("success_rate", current.SuccessRate),
				zap.Int("consecutive_failures", current.ConsecutiveFailures),
			)
		}
		return nil
	})

	return updated
}

func (m *Monitor) lockFor(providerID string) *concurrency.Mutex {
	if l, ok := m.locks.Get(providerID); ok {
		return l
	}
	l, _ := m.locks.SetIfAbsent(providerID, concurrency.NewMutex())
	return l
}

// current returns the stored record or an unknown record
func (m *Monitor) current(providerID string) ProviderStatus {
	if s, ok := m.statuses.Get(providerID); ok {
		return s
	}
	return newStatus(providerID)
}

func unknownProvider(providerID string) error {
	return fmt.Errorf("%w: %s", services.ErrUnknownProvider.WithDetail("provider_id", providerID), providerID)
}
