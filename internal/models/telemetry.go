package models

import "time"

// TelemetrySample is one multivariate measurement from the monitored process.
// Samples are immutable once created; Seq is strictly increasing per stream.
type TelemetrySample struct {
	Seq       uint64             `json:"seq"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Clone returns a deep copy of the sample so window snapshots never alias
// caller-owned maps.
func (s TelemetrySample) Clone() TelemetrySample {
	values := make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return TelemetrySample{Seq: s.Seq, Timestamp: s.Timestamp, Values: values}
}

// WindowSnapshot is an immutable, contiguous, time-ordered slice of exactly
// Size() recent samples. LastSeq is the sequence number of the newest member.
type WindowSnapshot struct {
	Samples []TelemetrySample `json:"samples"`
	LastSeq uint64            `json:"last_seq"`
}

// Size returns the number of samples in the snapshot.
func (w *WindowSnapshot) Size() int {
	if w == nil {
		return 0
	}
	return len(w.Samples)
}

// Latest returns the most recent sample in the snapshot.
func (w *WindowSnapshot) Latest() TelemetrySample {
	if w == nil || len(w.Samples) == 0 {
		return TelemetrySample{}
	}
	return w.Samples[len(w.Samples)-1]
}

// VariableContribution ranks one source variable by its share of the
// deviation statistic.
type VariableContribution struct {
	Variable string  `json:"variable"`
	Value    float64 `json:"value"`
	Score    float64 `json:"score"`
}

// DetectionResult is the outcome of scoring one window snapshot against the
// baseline model. Created once per evaluation, never mutated.
type DetectionResult struct {
	Score        float64                `json:"score"`
	Threshold    float64                `json:"threshold"`
	Anomalous    bool                   `json:"anomalous"`
	Contributors []VariableContribution `json:"contributors,omitempty"`
	Window       *WindowSnapshot        `json:"window,omitempty"`
	EvaluatedAt  time.Time              `json:"evaluated_at"`
}
