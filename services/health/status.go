package health

import "time"

// Status is the operational state of a provider
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusOperational Status = "operational"
	StatusDegraded    Status = "degraded"
	StatusDown        Status = "down"
)

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusUnknown, StatusOperational, StatusDegraded, StatusDown:
		return true
	}
	return false
}

// ProviderStatus is the dynamic health record of one provider
type ProviderStatus struct {
	ProviderID string `json:"provider_id"`
	Status     Status `json:"status"`

	// ResponseTime is the last observed successful response time
	ResponseTime time.Duration `json:"response_time"`

	// SuccessRate and ErrorRate are independent moving averages in [0, 1]
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`

	LastChecked         time.Time `json:"last_checked"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// newStatus returns the record of a provider that was never observed
func newStatus(providerID string) ProviderStatus {
	return ProviderStatus{
		ProviderID:  providerID,
		Status:      StatusUnknown,
		SuccessRate: 1,
		ErrorRate:   0,
	}
}

// ema folds sample into old with smoothing factor alpha and clamps to [0, 1]
func ema(old, sample, alpha float64) float64 {
	v := old*(1-alpha) + sample*alpha
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
