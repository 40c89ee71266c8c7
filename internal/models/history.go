package models

import "time"

// RecordStatus enumerates terminal states of a diagnosis request.
type RecordStatus string

const (
	// RecordStatusCompleted means every targeted provider responded or timed out.
	RecordStatusCompleted RecordStatus = "completed"
	// RecordStatusDropped means the request was evicted under overload before
	// all providers finished; Responses holds whatever had arrived.
	RecordStatusDropped RecordStatus = "dropped"
)

// HistoryRecord is the durable, append-only unit of diagnosis history: one
// request plus all collected provider responses.
type HistoryRecord struct {
	CorrelationID string             `json:"correlation_id"`
	Status        RecordStatus       `json:"status"`
	Request       DiagnosisRequest   `json:"request"`
	Responses     []ProviderResponse `json:"responses"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// HistoryQuery bounds a time-range lookup over stored records.
type HistoryQuery struct {
	Start time.Time
	End   time.Time
	Limit int
}

// ExcursionPattern is a recurring anomaly signature mined from history:
// how often a variable led the contribution ranking, with score statistics.
type ExcursionPattern struct {
	Variable   string    `json:"variable"`
	Count      int       `json:"count"`
	Prevalence float64   `json:"prevalence"`
	MeanScore  float64   `json:"mean_score"`
	PeakScore  float64   `json:"peak_score"`
	LastSeen   time.Time `json:"last_seen"`
}
