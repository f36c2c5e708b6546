package providers

import (
	"net/http"
	"strings"
)

// Provider types with a dedicated capability descriptor
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeGeneric   = "generic"
)

// Capability describes how to talk to one provider type
type Capability struct {
	// Type is the descriptor key
	Type string `json:"type"`

	// ProbePath is appended to the provider endpoint for health probes
	ProbePath string `json:"probe_path"`

	// AuthHeader carries the credential
	AuthHeader string `json:"auth_header"`

	// AuthScheme prefixes the credential (e.g., "Bearer ")
	AuthScheme string `json:"auth_scheme,omitempty"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty"`
}

var capabilities = map[string]Capability{
	TypeOpenAI: {
		Type:       TypeOpenAI,
		ProbePath:  "/models",
		AuthHeader: "Authorization",
		AuthScheme: "Bearer ",
	},
	TypeAnthropic: {
		Type:       TypeAnthropic,
		ProbePath:  "/v1/models",
		AuthHeader: "x-api-key",
		Headers: map[string]string{
			"anthropic-version": "2023-06-01",
		},
	},
	TypeGeneric: {
		Type:       TypeGeneric,
		ProbePath:  "/health",
		AuthHeader: "Authorization",
		AuthScheme: "Bearer ",
	},
}

// CapabilityFor returns the descriptor for a provider type.
// Unknown or empty types fall back to the generic descriptor.
func CapabilityFor(providerType string) Capability {
	if c, ok := capabilities[strings.ToLower(strings.TrimSpace(providerType))]; ok {
		return c
	}
	return capabilities[TypeGeneric]
}

// KnownTypes returns every provider type with its own descriptor
func KnownTypes() []string {
	return []string{TypeAnthropic, TypeGeneric, TypeOpenAI}
}

// ProbeURL joins the provider endpoint and the probe path
func (c Capability) ProbeURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + c.ProbePath
}

// Apply sets the auth and extra headers on req
func (c Capability) Apply(req *http.Request, credential string) {
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	if credential != "" && c.AuthHeader != "" {
		req.Header.Set(c.AuthHeader, c.AuthScheme+credential)
	}
}
