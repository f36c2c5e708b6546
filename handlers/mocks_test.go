package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	"github.com/upb/provider-orchestrator/models"
	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/services/orchestrator"
	"github.com/upb/provider-orchestrator/services/providers"
	"github.com/upb/provider-orchestrator/services/routing"
)

// MockOrchestrator is a mock implementation of the handler service interfaces
type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) RouteRequest(ctx context.Context, req routing.Request) (*routing.Decision, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*routing.Decision), args.Error(1)
}

func (m *MockOrchestrator) RouteBatch(ctx context.Context, reqs []routing.Request) []orchestrator.BatchItem {
	args := m.Called(ctx, reqs)
	return args.Get(0).([]orchestrator.BatchItem)
}

func (m *MockOrchestrator) Providers() []providers.Provider {
	args := m.Called()
	return args.Get(0).([]providers.Provider)
}

func (m *MockOrchestrator) Provider(providerID string) (providers.Provider, bool) {
	args := m.Called(providerID)
	return args.Get(0).(providers.Provider), args.Bool(1)
}

func (m *MockOrchestrator) GetProviderStatus(ctx context.Context, providerID string) (health.ProviderStatus, error) {
	args := m.Called(ctx, providerID)
	return args.Get(0).(health.ProviderStatus), args.Error(1)
}

func (m *MockOrchestrator) GetAllProviderStatuses(ctx context.Context) []health.ProviderStatus {
	args := m.Called(ctx)
	return args.Get(0).([]health.ProviderStatus)
}

func (m *MockOrchestrator) ReportOutcome(ctx context.Context, providerID string, success bool, responseTime time.Duration) error {
	args := m.Called(ctx, providerID, success, responseTime)
	return args.Error(0)
}

func (m *MockOrchestrator) Metrics() orchestrator.Metrics {
	args := m.Called()
	return args.Get(0).(orchestrator.Metrics)
}

func (m *MockOrchestrator) ResetMetrics() {
	m.Called()
}

// MockOutcomeHistory is a mock implementation of OutcomeHistory
type MockOutcomeHistory struct {
	mock.Mock
}

func (m *MockOutcomeHistory) ListRecent(ctx context.Context, providerID string, limit int) ([]*models.ProviderOutcome, error) {
	args := m.Called(ctx, providerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ProviderOutcome), args.Error(1)
}

// withURLParam attaches a chi route parameter to the request
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
