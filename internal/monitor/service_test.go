package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftstack/drift-engine/internal/baseline"
	"github.com/driftstack/drift-engine/internal/detector"
	"github.com/driftstack/drift-engine/internal/dispatch"
	"github.com/driftstack/drift-engine/internal/history"
	"github.com/driftstack/drift-engine/internal/models"
	"github.com/driftstack/drift-engine/internal/providers"
	"github.com/driftstack/drift-engine/internal/window"
)

type echoProvider struct{ name string }

func (p *echoProvider) Name() string { return p.name }

func (p *echoProvider) Analyze(context.Context, models.DetectionResult) (string, error) {
	return "echo diagnosis", nil
}

func testRuntime(windowSize, consecutive int) Runtime {
	return Runtime{
		WindowSize:          windowSize,
		Decimation:          1,
		ConsecutiveTriggers: consecutive,
		TopContributors:     5,
		VarianceFraction:    0.90,
		ConfidenceLevel:     0.99,
	}
}

// normalSample keeps both variables on the fitted correlation line.
func normalSample(seq uint64) models.TelemetrySample {
	v := 5.0 + float64(seq%3)
	return models.TelemetrySample{
		Seq:       seq,
		Timestamp: time.Unix(int64(seq), 0).UTC(),
		Values:    map[string]float64{"temperature": v, "pressure": 2*v + 10},
	}
}

// excursionSample pushes both variables far off the baseline.
func excursionSample(seq uint64) models.TelemetrySample {
	return models.TelemetrySample{
		Seq:       seq,
		Timestamp: time.Unix(int64(seq), 0).UTC(),
		Values:    map[string]float64{"temperature": 500, "pressure": 1010},
	}
}

func fitCorpus(n int) []models.TelemetrySample {
	corpus := make([]models.TelemetrySample, 0, n)
	for i := 0; i < n; i++ {
		v := float64(i + 1)
		corpus = append(corpus, models.TelemetrySample{
			Seq:       uint64(i + 1),
			Timestamp: time.Unix(int64(i), 0).UTC(),
			Values:    map[string]float64{"temperature": v, "pressure": 2*v + 10},
		})
	}
	return corpus
}

func newTestService(t *testing.T, runtime Runtime) (*Service, *history.MemoryStore, *dispatch.Dispatcher) {
	t.Helper()

	sink := history.NewMemoryStore()
	dispatcher := dispatch.NewDispatcher(nil, []providers.Provider{&echoProvider{name: "echo"}}, nil, sink, dispatch.Settings{
		MaxInFlight:     4,
		ProviderTimeout: time.Second,
	})

	svc, err := New(nil, detector.New(nil), dispatcher, dispatch.NewGovernor(0), runtime)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, sink, dispatcher
}

func TestIngestBeforeFitReportsModelNotFitted(t *testing.T) {
	svc, _, _ := newTestService(t, testRuntime(3, 1))

	// Samples filling the window are accepted without evaluation errors.
	for seq := uint64(1); seq < 3; seq++ {
		result, err := svc.Ingest(normalSample(seq))
		if err != nil {
			t.Fatalf("seq %d: %v", seq, err)
		}
		if !result.Accepted || result.Evaluated {
			t.Fatalf("seq %d: unexpected result %+v", seq, result)
		}
	}

	// The fill-completing push wants an evaluation and reports the gap.
	result, err := svc.Ingest(normalSample(3))
	if !errors.Is(err, detector.ErrModelNotFitted) {
		t.Fatalf("expected ErrModelNotFitted, got %v", err)
	}
	if !result.Accepted {
		t.Fatal("sample must still be accepted without a model")
	}
}

func TestIngestRejectsOutOfOrder(t *testing.T) {
	svc, _, _ := newTestService(t, testRuntime(3, 1))

	if _, err := svc.Ingest(normalSample(5)); err != nil {
		t.Fatalf("seq 5: %v", err)
	}
	if _, err := svc.Ingest(normalSample(5)); !errors.Is(err, window.ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample, got %v", err)
	}
	if _, err := svc.Ingest(normalSample(4)); !errors.Is(err, window.ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample, got %v", err)
	}
	if _, err := svc.Ingest(normalSample(6)); err != nil {
		t.Fatalf("seq 6 after rejections: %v", err)
	}
}

func TestConfirmedAnomalyDispatches(t *testing.T) {
	const consecutive = 3
	svc, _, _ := newTestService(t, testRuntime(4, consecutive))

	if _, err := svc.FitBaseline(fitCorpus(10), baseline.FitOptions{}); err != nil {
		t.Fatalf("fit: %v", err)
	}

	seq := uint64(0)
	push := func(sample models.TelemetrySample) IngestResult {
		t.Helper()
		result, err := svc.Ingest(sample)
		if err != nil {
			t.Fatalf("seq %d: %v", sample.Seq, err)
		}
		return result
	}

	// Fill the window with normal traffic.
	for i := 0; i < 4; i++ {
		seq++
		result := push(normalSample(seq))
		if result.Confirmed {
			t.Fatalf("normal sample %d confirmed", seq)
		}
	}

	// K-1 excursions stay suspect.
	for i := 0; i < consecutive-1; i++ {
		seq++
		result := push(excursionSample(seq))
		if !result.Raw {
			t.Fatalf("excursion %d not flagged", seq)
		}
		if result.Confirmed {
			t.Fatalf("confirmed after %d flags", i+1)
		}
	}

	// The K-th consecutive excursion confirms and dispatches.
	seq++
	result := push(excursionSample(seq))
	if !result.Confirmed {
		t.Fatal("expected confirmation on the final consecutive excursion")
	}
	if !result.Dispatched || result.CorrelationID == "" {
		t.Fatalf("expected dispatch with correlation id, got %+v", result)
	}

	// The record lands via the reconciler in production; here the pending
	// entry alone proves the hand-off happened without blocking ingestion.
	if svc.Status().PendingRequests != 1 {
		t.Fatalf("expected 1 pending request, got %d", svc.Status().PendingRequests)
	}
}

func TestInterruptedRunDoesNotConfirm(t *testing.T) {
	const consecutive = 3
	svc, _, _ := newTestService(t, testRuntime(4, consecutive))

	if _, err := svc.FitBaseline(fitCorpus(10), baseline.FitOptions{}); err != nil {
		t.Fatalf("fit: %v", err)
	}

	seq := uint64(0)
	push := func(sample models.TelemetrySample) IngestResult {
		t.Helper()
		result, err := svc.Ingest(sample)
		if err != nil {
			t.Fatalf("seq %d: %v", sample.Seq, err)
		}
		return result
	}

	for i := 0; i < 4; i++ {
		seq++
		push(normalSample(seq))
	}
	for cycle := 0; cycle < 3; cycle++ {
		for i := 0; i < consecutive-1; i++ {
			seq++
			if result := push(excursionSample(seq)); result.Confirmed {
				t.Fatalf("cycle %d: confirmed after %d flags", cycle, i+1)
			}
		}
		seq++
		if result := push(normalSample(seq)); result.Confirmed {
			t.Fatalf("cycle %d: confirmed on normal sample", cycle)
		}
	}
}

func TestIngestBatchRecoversPerSample(t *testing.T) {
	svc, _, _ := newTestService(t, testRuntime(3, 1))

	batch := svc.IngestBatch([]models.TelemetrySample{
		normalSample(1),
		normalSample(2),
		normalSample(1), // out of order
		normalSample(3), // fills window, no model yet
		normalSample(4),
	})

	if batch.Rejected != 1 {
		t.Fatalf("expected 1 rejected, got %d", batch.Rejected)
	}
	if batch.Accepted != 4 {
		t.Fatalf("expected 4 accepted, got %d", batch.Accepted)
	}
	if batch.Evaluated != 0 {
		t.Fatalf("expected no evaluations before fit, got %d", batch.Evaluated)
	}
}

func TestApplyConfigReshapesWindowAndKeepsOrdering(t *testing.T) {
	svc, _, _ := newTestService(t, testRuntime(4, 1))

	for seq := uint64(1); seq <= 3; seq++ {
		if _, err := svc.Ingest(normalSample(seq)); err != nil {
			t.Fatalf("seq %d: %v", seq, err)
		}
	}

	runtime := testRuntime(2, 1)
	svc.runtime.Store(&runtime)

	// The rebuilt buffer starts empty, but the ordering guard survives.
	if _, err := svc.Ingest(normalSample(2)); !errors.Is(err, window.ErrOutOfOrderSample) {
		t.Fatalf("expected ordering guard across reshape, got %v", err)
	}
	if _, err := svc.Ingest(normalSample(4)); err != nil {
		t.Fatalf("seq 4 after reshape: %v", err)
	}

	status := svc.Status()
	if status.WindowSize != 2 {
		t.Fatalf("expected window size 2 after reshape, got %d", status.WindowSize)
	}
	if status.WindowFill != 1 {
		t.Fatalf("expected rebuilt buffer to hold 1 sample, got %d", status.WindowFill)
	}
}

func TestStatusReflectsModelInstall(t *testing.T) {
	svc, _, _ := newTestService(t, testRuntime(4, 1))

	if svc.Status().ModelFitted {
		t.Fatal("model must not be fitted initially")
	}
	model, err := svc.FitBaseline(fitCorpus(10), baseline.FitOptions{})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	status := svc.Status()
	if !status.ModelFitted {
		t.Fatal("expected fitted model in status")
	}
	if status.ModelComponents != model.Components() {
		t.Fatalf("component mismatch: %d vs %d", status.ModelComponents, model.Components())
	}
	if status.ModelThreshold != model.Threshold {
		t.Fatalf("threshold mismatch: %v vs %v", status.ModelThreshold, model.Threshold)
	}
}
