package window

import (
	"errors"
	"testing"
	"time"

	"github.com/driftstack/drift-engine/internal/models"
)

func sampleAt(seq uint64, value float64) models.TelemetrySample {
	return models.TelemetrySample{
		Seq:       seq,
		Timestamp: time.Unix(int64(seq), 0).UTC(),
		Values:    map[string]float64{"temp": value},
	}
}

func TestBufferEmitsSnapshotPerPushOnceFull(t *testing.T) {
	const size = 5
	const extra = 7
	buffer, err := NewBuffer(size, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	snapshots := 0
	for seq := uint64(1); seq <= size+extra; seq++ {
		snapshot, err := buffer.Push(sampleAt(seq, float64(seq)))
		if err != nil {
			t.Fatalf("push seq %d: %v", seq, err)
		}
		if snapshot != nil {
			snapshots++
			if snapshot.Size() != size {
				t.Fatalf("expected snapshot size %d, got %d", size, snapshot.Size())
			}
			if snapshot.LastSeq != seq {
				t.Fatalf("expected snapshot last seq %d, got %d", seq, snapshot.LastSeq)
			}
		}
	}

	// The first snapshot arrives when the window fills; every later push
	// slides the window and emits another.
	if snapshots != extra+1 {
		t.Fatalf("expected %d snapshots, got %d", extra+1, snapshots)
	}
	if buffer.Len() != size {
		t.Fatalf("expected buffer to stay at %d samples, got %d", size, buffer.Len())
	}
}

func TestBufferDecimationSkipsEvaluations(t *testing.T) {
	const size = 3
	buffer, err := NewBuffer(size, 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	emitted := make([]uint64, 0)
	for seq := uint64(1); seq <= 8; seq++ {
		snapshot, err := buffer.Push(sampleAt(seq, float64(seq)))
		if err != nil {
			t.Fatalf("push seq %d: %v", seq, err)
		}
		if snapshot != nil {
			emitted = append(emitted, snapshot.LastSeq)
		}
	}

	// Every push still slides the window; only every second push evaluates.
	want := []uint64{4, 6, 8}
	if len(emitted) != len(want) {
		t.Fatalf("expected %d snapshots, got %d (%v)", len(want), len(emitted), emitted)
	}
	for i, seq := range want {
		if emitted[i] != seq {
			t.Fatalf("snapshot %d: expected last seq %d, got %d", i, seq, emitted[i])
		}
	}
}

func TestBufferRejectsOutOfOrderSamples(t *testing.T) {
	buffer, err := NewBuffer(3, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := buffer.Push(sampleAt(10, 1)); err != nil {
		t.Fatalf("push seq 10: %v", err)
	}
	if _, err := buffer.Push(sampleAt(10, 2)); !errors.Is(err, ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample for duplicate seq, got %v", err)
	}
	if _, err := buffer.Push(sampleAt(9, 3)); !errors.Is(err, ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample for stale seq, got %v", err)
	}

	// The rejection must leave the buffer untouched.
	if buffer.Len() != 1 {
		t.Fatalf("expected 1 buffered sample after rejections, got %d", buffer.Len())
	}
	if buffer.LastSeq() != 10 {
		t.Fatalf("expected last seq 10, got %d", buffer.LastSeq())
	}

	if _, err := buffer.Push(sampleAt(11, 4)); err != nil {
		t.Fatalf("push seq 11 after rejection: %v", err)
	}
}

func TestBufferSnapshotIsImmuneToSlides(t *testing.T) {
	buffer, err := NewBuffer(2, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := buffer.Push(sampleAt(1, 1)); err != nil {
		t.Fatalf("push: %v", err)
	}
	snapshot, err := buffer.Push(sampleAt(2, 2))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected snapshot when window filled")
	}

	if _, err := buffer.Push(sampleAt(3, 99)); err != nil {
		t.Fatalf("push: %v", err)
	}

	if got := snapshot.Samples[0].Seq; got != 1 {
		t.Fatalf("expected earlier snapshot to keep seq 1, got %d", got)
	}
	if got := snapshot.Latest().Values["temp"]; got != 2 {
		t.Fatalf("expected snapshot value 2, got %v", got)
	}
}

func TestNewBufferValidatesSize(t *testing.T) {
	if _, err := NewBuffer(0, 1); err == nil {
		t.Fatal("expected error for zero window size")
	}
	buffer, err := NewBuffer(4, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if buffer.Decimation() != 1 {
		t.Fatalf("expected decimation to default to 1, got %d", buffer.Decimation())
	}
}
