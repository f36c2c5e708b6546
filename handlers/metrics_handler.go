package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/internal/observability"
	"github.com/upb/provider-orchestrator/services/orchestrator"
	"github.com/upb/provider-orchestrator/utils"
)

// MetricsService exposes orchestrator counters
type MetricsService interface {
	Metrics() orchestrator.Metrics
	ResetMetrics()
}

// MetricsHandler handles metrics HTTP requests
type MetricsHandler struct {
	service MetricsService
	logger  *zap.Logger
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(service MetricsService, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGetMetrics handles GET /api/v1/metrics
func (h *MetricsHandler) HandleGetMetrics(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.service.Metrics()); err != nil {
		h.logger.Error("failed to write metrics response", zap.Error(err))
	}
}

// HandleResetMetrics handles POST /api/v1/metrics/reset
func (h *MetricsHandler) HandleResetMetrics(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context(), h.logger)

	h.service.ResetMetrics()
	logger.Info("metrics reset requested")

	utils.WriteNoContent(w)
}
