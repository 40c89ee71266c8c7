package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/driftstack/drift-engine/internal/baseline"
	"github.com/driftstack/drift-engine/internal/models"
)

// unitModel scores a single variable as its squared standardized deviation,
// which makes raw flags easy to force from test values.
func unitModel(threshold float64) *baseline.Model {
	return &baseline.Model{
		Variables:  []string{"x"},
		Mean:       []float64{0},
		Scale:      []float64{1},
		Basis:      [][]float64{{1}},
		Eigen:      []float64{1},
		Retained:   1,
		Threshold:  threshold,
		Confidence: 0.99,
		SampleSize: 10,
		FittedAt:   time.Now().UTC(),
	}
}

func snapshotWith(seq uint64, values map[string]float64) *models.WindowSnapshot {
	return &models.WindowSnapshot{
		Samples: []models.TelemetrySample{{
			Seq:       seq,
			Timestamp: time.Unix(int64(seq), 0).UTC(),
			Values:    values,
		}},
		LastSeq: seq,
	}
}

func TestEvaluateRequiresModel(t *testing.T) {
	det := New(nil)
	_, err := det.Evaluate(snapshotWith(1, map[string]float64{"x": 0}), 3, 5)
	if !errors.Is(err, ErrModelNotFitted) {
		t.Fatalf("expected ErrModelNotFitted, got %v", err)
	}
}

func TestGateConfirmsAfterConsecutiveFlags(t *testing.T) {
	det := New(nil)
	det.Install(unitModel(4))

	const consecutive = 3
	seq := uint64(0)
	evaluate := func(x float64) Evaluation {
		t.Helper()
		seq++
		eval, err := det.Evaluate(snapshotWith(seq, map[string]float64{"x": x}), consecutive, 5)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		return eval
	}

	// Two flags followed by a normal window must never confirm.
	for i := 0; i < consecutive-1; i++ {
		eval := evaluate(10)
		if !eval.Raw {
			t.Fatalf("expected raw flag at step %d", i)
		}
		if eval.Confirmed {
			t.Fatalf("confirmed after only %d flags", i+1)
		}
		if eval.State != GateSuspect {
			t.Fatalf("expected suspect state, got %s", eval.State)
		}
	}
	eval := evaluate(0)
	if eval.Raw || eval.Confirmed {
		t.Fatalf("normal window must clear the gate: %+v", eval)
	}
	if eval.State != GateNormal {
		t.Fatalf("expected normal state, got %s", eval.State)
	}

	// A fresh run of exactly K flags confirms on the K-th.
	for i := 0; i < consecutive-1; i++ {
		if eval := evaluate(10); eval.Confirmed {
			t.Fatalf("confirmed early at step %d", i+1)
		}
	}
	eval = evaluate(10)
	if !eval.Confirmed {
		t.Fatal("expected confirmation on the final consecutive flag")
	}
	if eval.State != GateConfirmed {
		t.Fatalf("expected confirmed state, got %s", eval.State)
	}
	if !eval.Result.Anomalous {
		t.Fatal("expected anomalous detection result")
	}
	if len(eval.Result.Contributors) == 0 {
		t.Fatal("expected contributors on confirmed result")
	}

	// Confirmation re-arms: the very next flag starts a new suspect run.
	eval = evaluate(10)
	if eval.Confirmed {
		t.Fatal("expected re-armed gate not to confirm immediately")
	}
	if eval.State != GateSuspect || eval.SuspectCount != 1 {
		t.Fatalf("expected suspect count 1 after re-arm, got %s/%d", eval.State, eval.SuspectCount)
	}
}

func TestConsecutiveOfOneConfirmsImmediately(t *testing.T) {
	det := New(nil)
	det.Install(unitModel(4))

	eval, err := det.Evaluate(snapshotWith(1, map[string]float64{"x": 5}), 1, 5)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !eval.Confirmed {
		t.Fatal("expected immediate confirmation with consecutive=1")
	}
}

func TestScoreAtThresholdDoesNotFlag(t *testing.T) {
	det := New(nil)
	det.Install(unitModel(4))

	// Score equal to the threshold is not an excursion; the comparison is
	// strictly greater-than.
	eval, err := det.Evaluate(snapshotWith(1, map[string]float64{"x": 2}), 1, 5)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Raw {
		t.Fatalf("score %v must not flag at threshold %v", eval.Result.Score, eval.Result.Threshold)
	}
}

func TestContributorsRankedAndTruncated(t *testing.T) {
	model := &baseline.Model{
		Variables: []string{"a", "b", "c"},
		Mean:      []float64{0, 0, 0},
		Scale:     []float64{1, 1, 1},
		Basis:     [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Eigen:     []float64{1, 1, 1},
		Threshold: 1,
	}
	det := New(nil)
	det.Install(model)

	values := map[string]float64{"a": 1, "b": 5, "c": 3}
	eval, err := det.Evaluate(snapshotWith(1, values), 1, 2)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !eval.Confirmed {
		t.Fatal("expected confirmation")
	}

	contributors := eval.Result.Contributors
	if len(contributors) != 2 {
		t.Fatalf("expected top-2 contributors, got %d", len(contributors))
	}
	if contributors[0].Variable != "b" || contributors[1].Variable != "c" {
		t.Fatalf("unexpected ranking: %s, %s", contributors[0].Variable, contributors[1].Variable)
	}
	if contributors[0].Score < contributors[1].Score {
		t.Fatal("contributors must be ordered by descending score")
	}
	if contributors[0].Value != 5 {
		t.Fatalf("expected observed value 5 on leader, got %v", contributors[0].Value)
	}
}

func TestInstallSwapsModelForNextEvaluation(t *testing.T) {
	det := New(nil)
	det.Install(unitModel(4))

	eval, err := det.Evaluate(snapshotWith(1, map[string]float64{"x": 3}), 1, 5)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !eval.Raw {
		t.Fatal("expected flag under threshold 4")
	}

	det.Install(unitModel(100))
	det.ResetGate()
	eval, err = det.Evaluate(snapshotWith(2, map[string]float64{"x": 3}), 1, 5)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Raw {
		t.Fatal("expected no flag under the reloaded threshold")
	}
}
