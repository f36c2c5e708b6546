package models

import (
	"time"

	"github.com/google/uuid"
)

// ProviderOutcome is the recorded result of one real upstream call
type ProviderOutcome struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ProviderID     string    `json:"provider_id" db:"provider_id"`
	Success        bool      `json:"success" db:"success"`
	ResponseTimeMs int64     `json:"response_time_ms" db:"response_time_ms"`
	RecordedAt     time.Time `json:"recorded_at" db:"recorded_at"`
}

// TableName returns the table name for the ProviderOutcome model
func (ProviderOutcome) TableName() string {
	return "provider_outcomes"
}

// NewProviderOutcome creates a new ProviderOutcome stamped with the current time
func NewProviderOutcome(providerID string, success bool, responseTime time.Duration) *ProviderOutcome {
	return &ProviderOutcome{
		ID:             uuid.New(),
		ProviderID:     providerID,
		Success:        success,
		ResponseTimeMs: responseTime.Milliseconds(),
		RecordedAt:     time.Now().UTC(),
	}
}

// ResponseTime returns the recorded response time as a duration
func (o *ProviderOutcome) ResponseTime() time.Duration {
	return time.Duration(o.ResponseTimeMs) * time.Millisecond
}
