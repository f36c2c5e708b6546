package providers

import (
	"errors"
	"fmt"
	"strings"
)

// Provider is the static description of an upstream AI completion API
type Provider struct {
	// ID is the unique registry key
	ID string `json:"id"`

	// Name is the human-readable name
	Name string `json:"name"`

	// Type selects the capability descriptor (e.g., "openai", "anthropic", "generic")
	Type string `json:"type"`

	// Endpoint is the base URL of the provider API
	Endpoint string `json:"endpoint"`

	// CredentialRef names the environment variable holding the credential
	CredentialRef string `json:"credential_ref,omitempty"`

	// Credential is the resolved secret and is never serialized
	Credential string `json:"-"`

	// Models supported by this provider
	Models []string `json:"models"`

	// CostPerToken in USD
	CostPerToken float64 `json:"cost_per_token"`

	// MaxTokensPerRequest is zero when the provider sets no limit
	MaxTokensPerRequest int `json:"max_tokens_per_request"`

	// Priority breaks scoring ties; lower is preferred
	Priority int `json:"priority"`

	// FallbackOrder breaks ties between equal priorities
	FallbackOrder int `json:"fallback_order"`

	// Active providers take part in routing
	Active bool `json:"active"`
}

// Supports reports whether the provider serves model
func (p Provider) Supports(model string) bool {
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Validate checks the static attributes of a provider
func (p Provider) Validate() error {
	var errs []error

	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(p.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if len(p.Models) == 0 {
		errs = append(errs, errors.New("at least one model is required"))
	}
	for _, m := range p.Models {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, errors.New("model names cannot be empty"))
			break
		}
	}
	if p.CostPerToken < 0 {
		errs = append(errs, fmt.Errorf("cost_per_token must be non-negative, got %v", p.CostPerToken))
	}
	if p.MaxTokensPerRequest < 0 {
		errs = append(errs, fmt.Errorf("max_tokens_per_request must be non-negative, got %d", p.MaxTokensPerRequest))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidProvider, p.ID, errors.Join(errs...))
	}
	return nil
}

// clone returns a copy that shares no mutable state with p
func (p Provider) clone() Provider {
	c := p
	c.Models = append([]string(nil), p.Models...)
	return c
}

// ProviderError represents a failed call or probe against a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}
