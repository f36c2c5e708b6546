package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/internal/observability"
	"github.com/upb/provider-orchestrator/models"
	"github.com/upb/provider-orchestrator/services"
	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/services/providers"
	"github.com/upb/provider-orchestrator/utils"
)

const (
	defaultOutcomeLimit = 50
	maxOutcomeLimit     = 1000
	maxProviderIDLength = 128
)

// ProviderService defines the provider operations exposed over HTTP
type ProviderService interface {
	// Providers lists registered providers in preference order
	Providers() []providers.Provider

	// Provider looks up one registered provider
	Provider(providerID string) (providers.Provider, bool)

	// GetProviderStatus returns the current health of one provider
	GetProviderStatus(ctx context.Context, providerID string) (health.ProviderStatus, error)

	// GetAllProviderStatuses returns the health of every provider
	GetAllProviderStatuses(ctx context.Context) []health.ProviderStatus

	// ReportOutcome records the result of a real upstream call
	ReportOutcome(ctx context.Context, providerID string, success bool, responseTime time.Duration) error
}

// OutcomeHistory reads persisted outcomes
type OutcomeHistory interface {
	ListRecent(ctx context.Context, providerID string, limit int) ([]*models.ProviderOutcome, error)
}

// ReportOutcomeRequest is the body of POST /api/v1/providers/{id}/outcome
type ReportOutcomeRequest struct {
	Success        *bool `json:"success" validate:"required"`
	ResponseTimeMs int64 `json:"response_time_ms" validate:"gte=0"`
}

// ProviderResponse represents a provider in API responses
type ProviderResponse struct {
	providers.Provider
	Capability providers.Capability `json:"capability"`
}

// ProviderHandler handles provider-related HTTP requests
type ProviderHandler struct {
	service ProviderService
	history OutcomeHistory
	logger  *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler. history may be nil when
// outcomes are not persisted.
func NewProviderHandler(service ProviderService, history OutcomeHistory, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		service: service,
		history: history,
		logger:  logger,
	}
}

// HandleListProviders handles GET /api/v1/providers
func (h *ProviderHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	list := h.service.Providers()

	responses := make([]ProviderResponse, len(list))
	for i, p := range list {
		responses[i] = ProviderResponse{
			Provider:   p,
			Capability: providers.CapabilityFor(p.Type),
		}
	}

	if err := utils.WriteOK(w, responses); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}

// HandleListStatuses handles GET /api/v1/providers/status
// An optional ?status= filter narrows the result to one state.
func (h *ProviderHandler) HandleListStatuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)

	filter := r.URL.Query().Get("status")
	if filter != "" {
		allowed := []string{
			string(health.StatusUnknown),
			string(health.StatusOperational),
			string(health.StatusDegraded),
			string(health.StatusDown),
		}
		if err := utils.ValidateOneOf(filter, "status", allowed); err != nil {
			invalidParameter(w, "status", err, logger)
			return
		}
	}

	statuses := h.service.GetAllProviderStatuses(ctx)
	if filter != "" {
		filtered := make([]health.ProviderStatus, 0, len(statuses))
		for _, s := range statuses {
			if string(s.Status) == filter {
				filtered = append(filtered, s)
			}
		}
		statuses = filtered
	}

	if err := utils.WriteOK(w, statuses); err != nil {
		logger.Error("failed to write statuses response", zap.Error(err))
	}
}

// HandleGetStatus handles GET /api/v1/providers/{id}/status
func (h *ProviderHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)

	providerID, ok := h.providerID(w, r)
	if !ok {
		return
	}

	status, err := h.service.GetProviderStatus(ctx, providerID)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	if err := utils.WriteOK(w, status); err != nil {
		logger.Error("failed to write status response", zap.Error(err))
	}
}

// HandleReportOutcome handles POST /api/v1/providers/{id}/outcome
func (h *ProviderHandler) HandleReportOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)

	providerID, ok := h.providerID(w, r)
	if !ok {
		return
	}

	var req ReportOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		HandleDecodeError(w, err, logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, logger)
		return
	}

	responseTime := time.Duration(req.ResponseTimeMs) * time.Millisecond
	if err := h.service.ReportOutcome(ctx, providerID, *req.Success, responseTime); err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	logger.Debug("outcome reported",
		zap.String("provider_id", providerID),
		zap.Bool("success", *req.Success),
		zap.Int64("response_time_ms", req.ResponseTimeMs))

	status, err := h.service.GetProviderStatus(ctx, providerID)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	if err := utils.WriteOK(w, status); err != nil {
		logger.Error("failed to write outcome response", zap.Error(err))
	}
}

// HandleListOutcomes handles GET /api/v1/providers/{id}/outcomes
func (h *ProviderHandler) HandleListOutcomes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)

	if h.history == nil {
		_ = utils.WriteNotFound(w, "Outcome history is not enabled")
		return
	}

	providerID, ok := h.providerID(w, r)
	if !ok {
		return
	}
	if _, found := h.service.Provider(providerID); !found {
		HandleServiceError(w, services.ErrUnknownProvider.WithDetail("provider_id", providerID), logger)
		return
	}

	limit := defaultOutcomeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			invalidParameter(w, "limit", errors.New("limit must be an integer"), logger)
			return
		}
		if err := utils.ValidateNumericRange(parsed, "limit", 1, maxOutcomeLimit); err != nil {
			invalidParameter(w, "limit", err, logger)
			return
		}
		limit = parsed
	}

	outcomes, err := h.history.ListRecent(ctx, providerID, limit)
	if err != nil {
		logger.Error("failed to list outcomes",
			zap.String("provider_id", providerID),
			zap.Error(err))
		HandleServiceError(w, services.ErrDatabaseError.Wrap(err), logger)
		return
	}

	if err := utils.WriteOK(w, outcomes); err != nil {
		logger.Error("failed to write outcomes response", zap.Error(err))
	}
}

// providerID reads and checks the {id} path parameter
func (h *ProviderHandler) providerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	logger := observability.FromContext(r.Context(), h.logger)

	id := chi.URLParam(r, "id")
	if err := utils.ValidateRequired(id, "provider id"); err != nil {
		invalidParameter(w, "id", err, logger)
		return "", false
	}
	if err := utils.ValidateStringLength(id, "provider id", 1, maxProviderIDLength); err != nil {
		invalidParameter(w, "id", err, logger)
		return "", false
	}
	return id, true
}

// invalidParameter rejects a malformed path or query parameter
func invalidParameter(w http.ResponseWriter, name string, err error, logger *zap.Logger) {
	HandleServiceError(w, services.ErrInvalidInput.Wrap(err).WithDetail("parameter", name), logger)
}
