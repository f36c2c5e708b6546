package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/utils"
)

// readinessTimeout bounds the dependency checks of one readiness probe
const readinessTimeout = 5 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProviderStatusSource reports provider health for readiness checks
type ProviderStatusSource interface {
	GetAllProviderStatuses(ctx context.Context) []health.ProviderStatus
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db        *sql.DB
	providers ProviderStatusSource
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when no
// database is configured.
func NewHealthHandler(db *sql.DB, providers ProviderStatusSource, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		providers: providers,
		logger:    logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness check - always returns 200 if the process is serving
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Ready when the database answers and at least one provider is not down
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db == nil {
		checks["database"] = "disabled"
	} else if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.checkProviders(ctx) {
		checks["providers"] = "healthy"
	} else {
		h.logger.Warn("no provider available for routing")
		checks["providers"] = "unhealthy"
		allHealthy = false
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}

// checkProviders reports whether any provider is not down
func (h *HealthHandler) checkProviders(ctx context.Context) bool {
	if h.providers == nil {
		return false
	}
	for _, s := range h.providers.GetAllProviderStatuses(ctx) {
		if s.Status != health.StatusDown {
			return true
		}
	}
	return false
}
