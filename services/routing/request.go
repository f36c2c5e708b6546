package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Urgency expresses how latency-sensitive a request is
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Quality expresses how reliability-sensitive a request is
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityPremium  Quality = "premium"
)

// Request describes one inbound call to be routed
type Request struct {
	// UserID identifies the caller
	UserID string `json:"user_id" validate:"required,max=256"`

	// Model is the requested model identifier
	Model string `json:"model" validate:"required,max=256"`

	// Prompt text, or a caller-side fingerprint of it
	Prompt string `json:"prompt"`

	// ExpectedTokens is the estimated total token count
	ExpectedTokens int `json:"expected_tokens" validate:"gt=0"`

	// Budget is an optional cost ceiling in USD
	Budget *float64 `json:"budget,omitempty" validate:"omitempty,gte=0"`

	// Urgency defaults to medium
	Urgency Urgency `json:"urgency,omitempty" validate:"omitempty,oneof=low medium high"`

	// Quality defaults to standard
	Quality Quality `json:"quality,omitempty" validate:"omitempty,oneof=standard premium"`
}

// withDefaults returns a copy with empty urgency and quality filled in
func (r Request) withDefaults() Request {
	if r.Urgency == "" {
		r.Urgency = UrgencyMedium
	}
	if r.Quality == "" {
		r.Quality = QualityStandard
	}
	return r
}

// Fingerprint is a deterministic cache key over user, model, normalized prompt
// and expected tokens. Urgency, quality and budget are not part of it.
func (r Request) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{
		r.UserID,
		r.Model,
		NormalizePrompt(r.Prompt),
		strconv.Itoa(r.ExpectedTokens),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizePrompt trims, collapses whitespace and lower-cases a prompt
func NormalizePrompt(prompt string) string {
	return strings.ToLower(strings.Join(strings.Fields(prompt), " "))
}

// Decision is the routing result for one request
type Decision struct {
	ID               string             `json:"id"`
	SelectedProvider string             `json:"selected_provider"`
	EstimatedCost    float64            `json:"estimated_cost"`
	EstimatedLatency time.Duration      `json:"estimated_latency"`
	Alternatives     []string           `json:"alternatives"`
	Fingerprint      string             `json:"fingerprint"`
	CreatedAt        time.Time          `json:"created_at"`
	Scores           map[string]float64 `json:"scores,omitempty"`
	Cached           bool               `json:"cached"`
}

// Chain returns the primary followed by the alternatives
func (d *Decision) Chain() []string {
	chain := make([]string, 0, len(d.Alternatives)+1)
	chain = append(chain, d.SelectedProvider)
	return append(chain, d.Alternatives...)
}

// clone returns a deep copy so cached decisions are never shared with callers
func (d Decision) clone() *Decision {
	c := d
	c.Alternatives = append([]string{}, d.Alternatives...)
	if d.Scores != nil {
		c.Scores = make(map[string]float64, len(d.Scores))
		for k, v := range d.Scores {
			c.Scores[k] = v
		}
	}
	return &c
}
