// Package routing scores providers for a request and produces cached routing decisions.
package routing

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/internal/concurrency"
	"github.com/upb/provider-orchestrator/services"
	"github.com/upb/provider-orchestrator/services/batch"
	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/services/metrics"
	"github.com/upb/provider-orchestrator/services/providers"
	"github.com/upb/provider-orchestrator/utils"
)

// HealthSource is the part of the health monitor the engine depends on
type HealthSource interface {
	GetStatus(ctx context.Context, providerID string) (health.ProviderStatus, error)
	RecordOutcome(providerID string, success bool, responseTime time.Duration) (health.ProviderStatus, error)
}

// Weights are the base weights of the scoring terms
type Weights struct {
	Cost        float64
	Latency     float64
	Reliability float64
}

// Config holds routing engine settings
type Config struct {
	// CacheTTL is how long a decision is reused for the same fingerprint
	CacheTTL time.Duration

	// CacheSize bounds the decision cache; zero means unbounded
	CacheSize int

	// Weights of the cost, latency and reliability terms
	Weights Weights

	// MaxJitter is the largest fraction added to the latency estimate
	MaxJitter float64

	// StatusConcurrency caps parallel status lookups per request
	StatusConcurrency int

	// StatusTimeout bounds a single status lookup
	StatusTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:  5 * time.Minute,
		CacheSize: 10000,
		Weights: Weights{
			Cost:        0.4,
			Latency:     0.3,
			Reliability: 0.3,
		},
		MaxJitter:         0.1,
		StatusConcurrency: 8,
		StatusTimeout:     10 * time.Second,
	}
}

// minResponseTime floors observed response times in the latency term
const minResponseTime = time.Millisecond

var healthFactors = map[health.Status]float64{
	health.StatusOperational: 1.0,
	health.StatusUnknown:     0.8,
	health.StatusDegraded:    0.5,
	health.StatusDown:        0,
}

// Engine routes requests to the best-scoring provider
type Engine struct {
	registry *providers.Registry
	health   HealthSource
	counters *metrics.Counters
	cache    *concurrency.ConcurrentCache[string, Decision]
	config   Config
	logger   *zap.Logger

	// injectable for tests
	jitter func() float64
	now    func() time.Time
	newID  func() string
}

// NewEngine creates a routing engine
func NewEngine(registry *providers.Registry, healthSource HealthSource, counters *metrics.Counters, config Config, logger *zap.Logger) *Engine {
	defaults := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.Weights == (Weights{}) {
		config.Weights = defaults.Weights
	}
	if config.MaxJitter < 0 {
		config.MaxJitter = 0
	}
	if config.StatusConcurrency <= 0 {
		config.StatusConcurrency = defaults.StatusConcurrency
	}
	if config.StatusTimeout <= 0 {
		config.StatusTimeout = defaults.StatusTimeout
	}
	if counters == nil {
		counters = metrics.NewCounters()
	}

	return &Engine{
		registry: registry,
		health:   healthSource,
		counters: counters,
		cache:    concurrency.NewConcurrentCache[string, Decision](config.CacheSize),
		config:   config,
		logger:   logger,
		jitter:   rand.Float64,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// candidate is a provider being scored for one request
type candidate struct {
	provider providers.Provider
	status   health.ProviderStatus
	estimate float64
	score    float64
}

// Route returns the routing decision for req. A decision cached for the same
// fingerprint is returned as-is, even if its provider has since gone down.
func (e *Engine) Route(ctx context.Context, req Request) (*Decision, error) {
	e.counters.IncRequests()

	if err := utils.ValidateStruct(&req); err != nil {
		return nil, services.ErrInvalidRequest.Wrap(err).WithDetail("fields", utils.GetValidationFields(err))
	}
	req = req.withDefaults()

	fingerprint := req.Fingerprint()
	if cached, ok := e.cache.Get(fingerprint); ok {
		d := cached.clone()
		d.Cached = true
		return d, nil
	}

	candidates := e.eligible(req)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no active provider supports model %q",
			services.ErrNoProviderAvailable.WithDetail("model", req.Model), req.Model)
	}

	e.fetchStatuses(ctx, candidates)

	usable := 0
	for _, c := range candidates {
		if c.status.Status != health.StatusDown {
			usable++
		}
	}
	if usable == 0 {
		return nil, fmt.Errorf("%w: every provider for model %q is down",
			services.ErrNoProviderAvailable.WithDetail("model", req.Model), req.Model)
	}

	e.score(req, candidates)
	rank(candidates)

	decision := e.decide(fingerprint, candidates)
	e.cache.Set(fingerprint, *decision.clone(), e.config.CacheTTL)

	e.logger.Debug("routing decision created",
		zap.String("decision_id", decision.ID),
		zap.String("model", req.Model),
		zap.String("selected_provider", decision.SelectedProvider),
		zap.Strings("alternatives", decision.Alternatives),
		zap.Float64("estimated_cost", decision.EstimatedCost),
	)

	return decision, nil
}

// RecordOutcome feeds the result of a real upstream call back into provider health
// and the request counters.
func (e *Engine) RecordOutcome(providerID string, success bool, responseTime time.Duration) error {
	if _, err := e.health.RecordOutcome(providerID, success, responseTime); err != nil {
		return err
	}
	e.counters.RecordOutcome(success, responseTime)
	return nil
}

// CacheStats returns decision cache statistics
func (e *Engine) CacheStats() concurrency.CacheStats {
	return e.cache.Stats()
}

// ClearCache drops every cached decision
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// RunCacheCleanup evicts expired decisions every interval until ctx is done
func (e *Engine) RunCacheCleanup(ctx context.Context, interval time.Duration) {
	e.cache.StartCleanupWorker(ctx, interval)
}

// eligible returns the active providers serving the model within their token limit
func (e *Engine) eligible(req Request) []*candidate {
	var out []*candidate
	for _, p := range e.registry.FindSupporting(req.Model) {
		if !p.Active {
			continue
		}
		if p.MaxTokensPerRequest > 0 && req.ExpectedTokens > p.MaxTokensPerRequest {
			continue
		}
		out = append(out, &candidate{
			provider: p,
			estimate: p.CostPerToken * float64(req.ExpectedTokens),
		})
	}
	return out
}

// fetchStatuses looks up every candidate status with bounded concurrency
func (e *Engine) fetchStatuses(ctx context.Context, candidates []*candidate) {
	tasks := make([]batch.Task[health.ProviderStatus], len(candidates))
	for i, c := range candidates {
		id := c.provider.ID
		tasks[i] = func(ctx context.Context) (health.ProviderStatus, error) {
			return e.health.GetStatus(ctx, id)
		}
	}

	results := batch.ExecuteParallel(ctx, tasks, batch.Options{
		MaxConcurrency: e.config.StatusConcurrency,
		Timeout:        e.config.StatusTimeout,
	})

	for i, r := range results {
		if r.Err != nil {
			e.logger.Warn("provider status lookup failed",
				zap.String("provider_id", candidates[i].provider.ID),
				zap.Error(r.Err),
			)
			candidates[i].status = health.ProviderStatus{
				ProviderID:  candidates[i].provider.ID,
				Status:      health.StatusUnknown,
				SuccessRate: 1,
			}
			continue
		}
		candidates[i].status = r.Value
	}
}

// score assigns every candidate its weighted score
func (e *Engine) score(req Request, candidates []*candidate) {
	minCost := -1.0
	fastest := time.Duration(0)
	for _, c := range candidates {
		if minCost < 0 || c.provider.CostPerToken < minCost {
			minCost = c.provider.CostPerToken
		}
		if c.status.Status == health.StatusDown {
			continue
		}
		if rt := floorRT(c.status.ResponseTime); fastest == 0 || rt < fastest {
			fastest = rt
		}
	}

	for _, c := range candidates {
		w := e.config.Weights
		wCost, wLatency, wReliability := w.Cost, w.Latency, w.Reliability

		costTerm := 1.0
		if c.provider.CostPerToken > 0 {
			costTerm = minCost / c.provider.CostPerToken
		}
		if req.Budget != nil {
			if c.estimate <= *req.Budget {
				wCost *= 2
			} else {
				costTerm = 0
			}
		}

		latencyTerm := 0.0
		if fastest > 0 {
			latencyTerm = float64(fastest) / float64(floorRT(c.status.ResponseTime))
		}
		switch req.Urgency {
		case UrgencyHigh:
			wLatency *= 2
		case UrgencyLow:
			wLatency *= 0.5
		}

		if req.Quality == QualityPremium {
			wReliability *= 2
		}

		sum := wCost*costTerm + wLatency*latencyTerm + wReliability*c.status.SuccessRate
		c.score = healthFactors[c.status.Status] * sum
	}
}

// rank orders candidates best first. Down providers always sort last.
func rank(candidates []*candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aDown := a.status.Status == health.StatusDown
		bDown := b.status.Status == health.StatusDown
		if aDown != bDown {
			return bDown
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return providers.Less(a.provider, b.provider)
	})
}

func (e *Engine) decide(fingerprint string, ranked []*candidate) *Decision {
	primary := ranked[0]

	alternatives := make([]string, 0, len(ranked)-1)
	scores := make(map[string]float64, len(ranked))
	for i, c := range ranked {
		scores[c.provider.ID] = c.score
		if i > 0 {
			alternatives = append(alternatives, c.provider.ID)
		}
	}

	latency := primary.status.ResponseTime
	if e.config.MaxJitter > 0 {
		latency += time.Duration(float64(latency) * e.config.MaxJitter * e.jitter())
	}

	return &Decision{
		ID:               e.newID(),
		SelectedProvider: primary.provider.ID,
		EstimatedCost:    primary.estimate,
		EstimatedLatency: latency,
		Alternatives:     alternatives,
		Fingerprint:      fingerprint,
		CreatedAt:        e.now(),
		Scores:           scores,
	}
}

func floorRT(rt time.Duration) time.Duration {
	if rt < minResponseTime {
		return minResponseTime
	}
	return rt
}
