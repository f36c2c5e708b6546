// Package orchestrator assembles the registry, health monitor, routing engine and
// fallback dispatcher into one explicitly constructed instance.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/internal/concurrency"
	"github.com/upb/provider-orchestrator/services/batch"
	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/services/metrics"
	"github.com/upb/provider-orchestrator/services/providers"
	"github.com/upb/provider-orchestrator/services/routing"
)

// OutcomeSink receives every reported outcome for asynchronous persistence.
// Record returns false when the outcome was dropped.
type OutcomeSink interface {
	Record(providerID string, success bool, responseTime time.Duration) bool
}

// Config holds orchestrator settings
type Config struct {
	Health  health.Config
	Routing routing.Config
	Batch   batch.Options

	// CacheCleanupInterval is how often expired routing decisions are evicted
	CacheCleanupInterval time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Health:               health.DefaultConfig(),
		Routing:              routing.DefaultConfig(),
		Batch:                batch.DefaultOptions(),
		CacheCleanupInterval: time.Minute,
	}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithOutcomeSink forwards reported outcomes to sink
func WithOutcomeSink(sink OutcomeSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// Orchestrator is the inbound interface of the provider orchestration core
type Orchestrator struct {
	registry   *providers.Registry
	monitor    *health.Monitor
	engine     *routing.Engine
	dispatcher *routing.Dispatcher
	counters   *metrics.Counters
	sink       OutcomeSink
	config     Config
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Metrics is a point-in-time view of orchestrator counters
type Metrics struct {
	Requests     metrics.Snapshot       `json:"requests"`
	RoutingCache concurrency.CacheStats `json:"routing_cache"`
	Providers    int                    `json:"providers"`
}

// BatchItem is the result of routing one request of a batch
type BatchItem struct {
	Index    int               `json:"index"`
	Decision *routing.Decision `json:"decision,omitempty"`
	Error    string            `json:"error,omitempty"`
	Err      error             `json:"-"`
}

// New builds an orchestrator over registry, probing providers with prober
func New(registry *providers.Registry, prober health.Prober, config Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if config.CacheCleanupInterval <= 0 {
		config.CacheCleanupInterval = defaults.CacheCleanupInterval
	}
	if config.Batch.MaxConcurrency <= 0 {
		config.Batch.MaxConcurrency = defaults.Batch.MaxConcurrency
	}
	if config.Batch.Timeout <= 0 {
		config.Batch.Timeout = defaults.Batch.Timeout
	}

	counters := metrics.NewCounters()
	monitor := health.NewMonitor(registry, prober, config.Health, logger.Named("health"))
	engine := routing.NewEngine(registry, monitor, counters, config.Routing, logger.Named("routing"))

	o := &Orchestrator{
		registry: registry,
		monitor:  monitor,
		engine:   engine,
		counters: counters,
		config:   config,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.dispatcher = routing.NewDispatcher(registry, monitor, outcomeReporter{o}, logger.Named("dispatch"))

	return o
}

// RouteRequest returns the routing decision for one request
func (o *Orchestrator) RouteRequest(ctx context.Context, req routing.Request) (*routing.Decision, error) {
	return o.engine.Route(ctx, req)
}

// RouteBatch routes every request concurrently. Items keep input order and
// carry their own error.
func (o *Orchestrator) RouteBatch(ctx context.Context, reqs []routing.Request) []BatchItem {
	tasks := make([]batch.Task[*routing.Decision], len(reqs))
	for i, req := range reqs {
		req := req
		tasks[i] = func(ctx context.Context) (*routing.Decision, error) {
			return o.engine.Route(ctx, req)
		}
	}

	results := batch.ExecuteParallel(ctx, tasks, o.config.Batch)

	items := make([]BatchItem, len(results))
	failed := 0
	for i, r := range results {
		items[i] = BatchItem{Index: i, Decision: r.Value, Err: r.Err}
		if r.Err != nil {
			items[i].Decision = nil
			items[i].Error = r.Err.Error()
			failed++
		}
	}

	o.logger.Debug("batch routed",
		zap.Int("requests", len(reqs)),
		zap.Int("failed", failed),
	)
	return items
}

// Dispatch routes req and walks the decision's fallback chain with call
func (o *Orchestrator) Dispatch(ctx context.Context, req routing.Request, call routing.CallFunc) (*routing.Decision, *routing.DispatchResult, error) {
	decision, err := o.engine.Route(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	result, err := o.dispatcher.Dispatch(ctx, decision, call)
	return decision, result, err
}

// GetProviderStatus returns the health of one provider
func (o *Orchestrator) GetProviderStatus(ctx context.Context, providerID string) (health.ProviderStatus, error) {
	return o.monitor.GetStatus(ctx, providerID)
}

// GetAllProviderStatuses returns the health of every registered provider
func (o *Orchestrator) GetAllProviderStatuses(ctx context.Context) []health.ProviderStatus {
	return o.monitor.GetAllStatuses(ctx)
}

// ReportOutcome feeds the result of a real upstream call into provider health,
// the request counters and the outcome sink.
func (o *Orchestrator) ReportOutcome(ctx context.Context, providerID string, success bool, responseTime time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.engine.RecordOutcome(providerID, success, responseTime); err != nil {
		return err
	}

	if o.sink != nil && !o.sink.Record(providerID, success, responseTime) {
		o.logger.Warn("outcome dropped by sink", zap.String("provider_id", providerID))
	}
	return nil
}

// Providers returns every registered provider in preference order
func (o *Orchestrator) Providers() []providers.Provider {
	return o.registry.List()
}

// Provider returns one registered provider
func (o *Orchestrator) Provider(providerID string) (providers.Provider, bool) {
	return o.registry.Get(providerID)
}

// Metrics returns request counters and routing cache statistics
func (o *Orchestrator) Metrics() Metrics {
	return Metrics{
		Requests:     o.counters.Snapshot(),
		RoutingCache: o.engine.CacheStats(),
		Providers:    o.registry.Count(),
	}
}

// ResetMetrics zeroes the request counters and drops cached decisions
func (o *Orchestrator) ResetMetrics() {
	o.counters.Reset()
	o.engine.ClearCache()
	o.logger.Info("metrics reset")
}

// Start launches the health refresh loop and routing cache cleanup
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.running = true

	o.monitor.Start(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.engine.RunCacheCleanup(ctx, o.config.CacheCleanupInterval)
	}()

	o.logger.Info("orchestrator started", zap.Int("providers", o.registry.Count()))
}

// Stop halts background work and waits for it to exit
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.cancel()
	o.mu.Unlock()

	o.monitor.Stop()
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

// outcomeReporter routes dispatcher outcomes through ReportOutcome
type outcomeReporter struct {
	o *Orchestrator
}

func (r outcomeReporter) RecordOutcome(providerID string, success bool, responseTime time.Duration) error {
	return r.o.ReportOutcome(context.Background(), providerID, success, responseTime)
}
