package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeExternal    ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Two domain errors match when type and message match,
// so a sentinel re-created with a cause still matches the sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail returns a copy of the error carrying an extra detail.
// Sentinels are never mutated.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value

	return &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
	}
}

// Wrap returns a copy of the error with err as its cause
func (e *DomainError) Wrap(err error) *DomainError {
	wrapped := e.WithDetail("cause", errorString(err))
	wrapped.Err = err
	return wrapped
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrUnknownProvider = NewDomainError(ErrorTypeNotFound, "unknown provider", nil)

	// Validation Errors
	ErrInvalidRequest = NewDomainError(ErrorTypeValidation, "invalid routing request", nil)
	ErrInvalidInput   = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	// Availability Errors
	ErrNoProviderAvailable     = NewDomainError(ErrorTypeUnavailable, "no provider available", nil)
	ErrAllProvidersUnavailable = NewDomainError(ErrorTypeUnavailable, "all providers unavailable", nil)

	// Timeout Errors
	ErrTaskTimeout = NewDomainError(ErrorTypeTimeout, "task timed out", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)

	// External Provider Errors
	ErrProviderProbeFailed = NewDomainError(ErrorTypeExternal, "provider probe failed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnavailableError checks if an error reports that no provider can serve a request
func IsUnavailableError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnavailable
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	return GetErrorType(err) == ErrorTypeTimeout
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
