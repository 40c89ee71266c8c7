// Package detector scores window snapshots against the baseline model and
// applies consecutive-occurrence gating before confirming an anomaly.
package detector

import (
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/driftstack/drift-engine/internal/baseline"
	"github.com/driftstack/drift-engine/internal/models"
)

// ErrModelNotFitted is returned when evaluation is attempted before a
// baseline model has been installed.
var ErrModelNotFitted = errors.New("baseline model not fitted")

// GateState labels the gating state machine position.
type GateState string

const (
	GateNormal    GateState = "normal"
	GateSuspect   GateState = "suspect"
	GateConfirmed GateState = "confirmed"
)

// Evaluation is the outcome of scoring one snapshot: the raw flag, the gate
// transition, and the detection result handed to the dispatcher on confirm.
type Evaluation struct {
	Result       models.DetectionResult
	Raw          bool
	Confirmed    bool
	State        GateState
	SuspectCount int
}

// Detector holds the current baseline model behind an atomic pointer so
// reloads never block in-flight scoring. Gating state is only touched by the
// single-threaded ingestion path and needs no lock.
type Detector struct {
	logger *slog.Logger

	model        atomic.Pointer[baseline.Model]
	suspectCount int
}

// New constructs a Detector with no model installed.
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Install atomically swaps in a new baseline model. Evaluations already in
// flight keep the model reference they loaded; nothing is invalidated
// retroactively.
func (d *Detector) Install(m *baseline.Model) {
	d.model.Store(m)
	if m != nil {
		d.logger.Info("baseline model installed",
			slog.Int("variables", len(m.Variables)),
			slog.Int("components", m.Components()),
			slog.Float64("threshold", m.Threshold))
	}
}

// Model returns the currently installed model, or nil.
func (d *Detector) Model() *baseline.Model {
	return d.model.Load()
}

// ResetGate returns the gating state machine to Normal. Used when runtime
// settings change the trigger count mid-stream.
func (d *Detector) ResetGate() {
	d.suspectCount = 0
}

// Evaluate scores the most recent sample of the snapshot. consecutive is the
// number of successive raw-positive evaluations required to confirm; topM
// bounds the contribution ranking attached to a confirmed result.
func (d *Detector) Evaluate(snapshot *models.WindowSnapshot, consecutive, topM int) (Evaluation, error) {
	model := d.model.Load()
	if model == nil {
		return Evaluation{}, ErrModelNotFitted
	}
	if consecutive < 1 {
		consecutive = 1
	}

	latest := snapshot.Latest()
	score, err := model.Score(latest.Values)
	if err != nil {
		return Evaluation{}, err
	}

	raw := score > model.Threshold
	eval := Evaluation{Raw: raw}

	if !raw {
		d.suspectCount = 0
		eval.State = GateNormal
	} else {
		d.suspectCount++
		if d.suspectCount >= consecutive {
			// Re-arm immediately so a sustained fault needs a fresh run of
			// consecutive flags before triggering again.
			d.suspectCount = 0
			eval.Confirmed = true
			eval.State = GateConfirmed
		} else {
			eval.State = GateSuspect
		}
	}
	eval.SuspectCount = d.suspectCount

	result := models.DetectionResult{
		Score:       score,
		Threshold:   model.Threshold,
		Anomalous:   eval.Confirmed,
		Window:      snapshot,
		EvaluatedAt: time.Now().UTC(),
	}
	if eval.Confirmed {
		result.Contributors = rankContributors(model, latest.Values, topM)
	}
	eval.Result = result
	return eval, nil
}

// rankContributors orders variables by their unsigned squared standardized
// deviation, largest first, truncated to topM.
func rankContributors(model *baseline.Model, values map[string]float64, topM int) []models.VariableContribution {
	z, err := model.Standardize(values)
	if err != nil {
		return nil
	}

	contributions := make([]models.VariableContribution, len(model.Variables))
	for j, name := range model.Variables {
		contributions[j] = models.VariableContribution{
			Variable: name,
			Value:    values[name],
			Score:    z[j] * z[j],
		}
	}
	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].Score > contributions[j].Score
	})

	if topM > 0 && len(contributions) > topM {
		contributions = contributions[:topM]
	}
	return contributions
}
