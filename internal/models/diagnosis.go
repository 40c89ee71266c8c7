package models

import "time"

// ProviderStatus enumerates terminal states of a single provider call.
type ProviderStatus string

const (
	ProviderStatusSuccess ProviderStatus = "success"
	ProviderStatusTimeout ProviderStatus = "timeout"
	ProviderStatusError   ProviderStatus = "error"
)

// DiagnosisRequest carries one confirmed anomaly out to the diagnostic
// providers. The correlation id links asynchronous responses back to it.
type DiagnosisRequest struct {
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Detection     DetectionResult `json:"detection"`
	Providers     []string        `json:"providers"`
}

// ProviderResponse is the terminal outcome of one provider call. Responses
// arrive in any order and are matched by correlation id only.
type ProviderResponse struct {
	Provider      string         `json:"provider"`
	CorrelationID string         `json:"correlation_id"`
	Status        ProviderStatus `json:"status"`
	Text          string         `json:"text,omitempty"`
	Error         string         `json:"error,omitempty"`
	Latency       time.Duration  `json:"latency"`
}
