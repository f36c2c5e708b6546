package routing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/services"
	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/services/providers"
)

// CallFunc performs the real upstream call against one provider
type CallFunc func(ctx context.Context, provider providers.Provider) error

// OutcomeReporter receives the outcome of every dispatched call
type OutcomeReporter interface {
	RecordOutcome(providerID string, success bool, responseTime time.Duration) error
}

// Attempt records one step of a fallback chain
type Attempt struct {
	ProviderID string        `json:"provider_id"`
	Skipped    bool          `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// DispatchResult describes how a decision was served
type DispatchResult struct {
	ProviderID string    `json:"provider_id"`
	Attempts   []Attempt `json:"attempts"`
}

// Dispatcher walks a decision's fallback chain until a call succeeds
type Dispatcher struct {
	registry *providers.Registry
	health   HealthSource
	reporter OutcomeReporter
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. Outcomes are reported through reporter.
func NewDispatcher(registry *providers.Registry, healthSource HealthSource, reporter OutcomeReporter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		health:   healthSource,
		reporter: reporter,
		logger:   logger,
	}
}

// Dispatch tries the primary provider and then each alternative in order,
// skipping providers currently reported down, and stops at the first success.
// When the chain is exhausted it returns ErrAllProvidersUnavailable wrapping the last error.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *Decision, call CallFunc) (*DispatchResult, error) {
	result := &DispatchResult{}
	var lastErr error

	for i, id := range decision.Chain() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		provider, ok := d.registry.Get(id)
		if !ok {
			result.Attempts = append(result.Attempts, Attempt{ProviderID: id, Skipped: true, Error: "unknown provider"})
			continue
		}

		if status, err := d.health.GetStatus(ctx, id); err == nil && status.Status == health.StatusDown {
			d.logger.Debug("skipping down provider",
				zap.String("decision_id", decision.ID),
				zap.String("provider_id", id),
			)
			result.Attempts = append(result.Attempts, Attempt{ProviderID: id, Skipped: true, Error: "provider down"})
			continue
		}

		start := time.Now()
		err := call(ctx, provider)
		elapsed := time.Since(start)

		if reportErr := d.reporter.RecordOutcome(id, err == nil, elapsed); reportErr != nil {
			d.logger.Warn("failed to report call outcome", zap.String("provider_id", id), zap.Error(reportErr))
		}

		attempt := Attempt{ProviderID: id, Duration: elapsed}
		if err == nil {
			result.Attempts = append(result.Attempts, attempt)
			result.ProviderID = id
			if i > 0 {
				d.logger.Info("request served by fallback provider",
					zap.String("decision_id", decision.ID),
					zap.String("primary", decision.SelectedProvider),
					zap.String("provider_id", id),
					zap.Int("attempt", i+1),
				)
			}
			return result, nil
		}

		attempt.Error = err.Error()
		result.Attempts = append(result.Attempts, attempt)
		lastErr = err

		d.logger.Warn("provider call failed",
			zap.String("decision_id", decision.ID),
			zap.String("provider_id", id),
			zap.Bool("retryable", providers.IsRetryable(err)),
			zap.Error(err),
		)
	}

	if lastErr != nil {
		return result, services.ErrAllProvidersUnavailable.Wrap(lastErr).WithDetail("attempts", len(result.Attempts))
	}
	return result, services.ErrAllProvidersUnavailable.WithDetail("attempts", len(result.Attempts))
}
