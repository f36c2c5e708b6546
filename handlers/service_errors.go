package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/services"
	"github.com/upb/provider-orchestrator/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	switch {
	case services.IsNotFoundError(err):
		if err := utils.WriteNotFound(w, err.Error()); err != nil {
			logger.Error("failed to write not found response", zap.Error(err))
		}

	case services.IsValidationError(err):
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.IsUnavailableError(err):
		if err := utils.WriteServiceUnavailable(w, err.Error(), details); err != nil {
			logger.Error("failed to write unavailable response", zap.Error(err))
		}

	case services.IsTimeoutError(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		if err := utils.WriteError(w, http.StatusGatewayTimeout, err.Error(), details); err != nil {
			logger.Error("failed to write timeout response", zap.Error(err))
		}

	case services.IsExternalError(err):
		// Upstream provider failures surface as 502
		if err := utils.WriteError(w, http.StatusBadGateway, err.Error(), details); err != nil {
			logger.Error("failed to write bad gateway response", zap.Error(err))
		}

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message),
			zap.Any("details", domainErr.Details))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// HandleDecodeError answers a request body that could not be decoded.
// Bodies cut off by http.MaxBytesReader get 413, anything else 400.
func HandleDecodeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		if err := utils.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large", map[string]interface{}{
			"max_bytes": tooLarge.Limit,
		}); err != nil {
			logger.Error("failed to write payload too large response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, "Invalid request body", nil); err != nil {
		logger.Error("failed to write bad request response", zap.Error(err))
	}
}
