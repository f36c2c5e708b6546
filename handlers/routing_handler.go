package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/internal/observability"
	"github.com/upb/provider-orchestrator/services/orchestrator"
	"github.com/upb/provider-orchestrator/services/routing"
	"github.com/upb/provider-orchestrator/utils"
)

// maxBatchSize bounds the number of requests accepted by one batch call
const maxBatchSize = 500

// RoutingService defines the routing operations exposed over HTTP
type RoutingService interface {
	// RouteRequest selects a provider for one request
	RouteRequest(ctx context.Context, req routing.Request) (*routing.Decision, error)

	// RouteBatch routes every request and keeps input order
	RouteBatch(ctx context.Context, reqs []routing.Request) []orchestrator.BatchItem
}

// BatchRouteRequest is the body of POST /api/v1/route/batch
type BatchRouteRequest struct {
	Requests []routing.Request `json:"requests"`
}

// BatchRouteResponse carries one item per submitted request
type BatchRouteResponse struct {
	Results   []orchestrator.BatchItem `json:"results"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

// RoutingHandler handles routing HTTP requests
type RoutingHandler struct {
	service RoutingService
	logger  *zap.Logger
}

// NewRoutingHandler creates a new RoutingHandler
func NewRoutingHandler(service RoutingService, logger *zap.Logger) *RoutingHandler {
	return &RoutingHandler{
		service: service,
		logger:  logger,
	}
}

// HandleRoute handles POST /api/v1/route
func (h *RoutingHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)

	var req routing.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("invalid route request body", zap.Error(err))
		HandleDecodeError(w, err, logger)
		return
	}

	decision, err := h.service.RouteRequest(ctx, req)
	if err != nil {
		logger.Warn("routing failed",
			zap.String("model", req.Model),
			zap.Error(err))
		HandleServiceError(w, err, logger)
		return
	}

	logger.Debug("request routed",
		zap.String("decision_id", decision.ID),
		zap.String("provider_id", decision.SelectedProvider),
		zap.Bool("cached", decision.Cached))

	if err := utils.WriteOK(w, decision); err != nil {
		logger.Error("failed to write route response", zap.Error(err))
	}
}

// HandleRouteBatch handles POST /api/v1/route/batch
func (h *RoutingHandler) HandleRouteBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)

	var body BatchRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Debug("invalid batch request body", zap.Error(err))
		HandleDecodeError(w, err, logger)
		return
	}

	if len(body.Requests) == 0 {
		_ = utils.WriteBadRequest(w, "requests must not be empty", nil)
		return
	}
	if len(body.Requests) > maxBatchSize {
		_ = utils.WriteBadRequest(w, fmt.Sprintf("at most %d requests per batch", maxBatchSize), map[string]interface{}{
			"max_batch_size": maxBatchSize,
			"received":       len(body.Requests),
		})
		return
	}

	items := h.service.RouteBatch(ctx, body.Requests)

	response := BatchRouteResponse{Results: items}
	for _, item := range items {
		if item.Err != nil {
			response.Failed++
		} else {
			response.Succeeded++
		}
	}

	logger.Info("batch routed",
		zap.Int("requests", len(items)),
		zap.Int("failed", response.Failed))

	if err := utils.WriteOK(w, response); err != nil {
		logger.Error("failed to write batch response", zap.Error(err))
	}
}
