// Package window maintains the sliding buffer of recent telemetry samples.
package window

import (
	"errors"
	"fmt"

	"github.com/driftstack/drift-engine/internal/models"
)

// ErrOutOfOrderSample is returned when a pushed sample's sequence number is
// not strictly greater than the last accepted one. The buffer is unchanged.
var ErrOutOfOrderSample = errors.New("out-of-order sample")

// Buffer holds the most recent N samples in insertion order. Once full it
// emits a fresh snapshot on every accepted push; an optional decimation
// factor emits only every D-th one. Buffer is not safe for concurrent use;
// the ingestion path is single-threaded by design.
type Buffer struct {
	size       int
	decimation int

	samples   []models.TelemetrySample
	lastSeq   uint64
	hasSample bool
	pushCount uint64
}

// NewBuffer creates a buffer for windows of size samples. Decimation values
// below 1 are treated as 1 (consider every push).
func NewBuffer(size, decimation int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}
	if decimation < 1 {
		decimation = 1
	}
	return &Buffer{
		size:       size,
		decimation: decimation,
		samples:    make([]models.TelemetrySample, 0, size),
	}, nil
}

// Size returns the configured window size.
func (b *Buffer) Size() int { return b.size }

// Decimation returns the configured decimation factor.
func (b *Buffer) Decimation() int { return b.decimation }

// Len returns the number of samples currently buffered.
func (b *Buffer) Len() int { return len(b.samples) }

// LastSeq returns the sequence number of the last accepted sample.
func (b *Buffer) LastSeq() uint64 { return b.lastSeq }

// Push accepts a sample and returns a snapshot when the buffer is full and
// the decimation gate lets this push through. Returns nil when no snapshot
// is due. Rejects non-increasing sequence numbers with ErrOutOfOrderSample.
func (b *Buffer) Push(sample models.TelemetrySample) (*models.WindowSnapshot, error) {
	if b.hasSample && sample.Seq <= b.lastSeq {
		return nil, fmt.Errorf("seq %d after %d: %w", sample.Seq, b.lastSeq, ErrOutOfOrderSample)
	}

	if len(b.samples) == b.size {
		// Evict the oldest sample. Shift in place; the backing array is
		// never shared because snapshots copy.
		copy(b.samples[0:], b.samples[1:])
		b.samples = b.samples[:b.size-1]
	}
	b.samples = append(b.samples, sample.Clone())
	b.lastSeq = sample.Seq
	b.hasSample = true
	b.pushCount++

	if len(b.samples) < b.size {
		return nil, nil
	}
	if b.pushCount%uint64(b.decimation) != 0 {
		return nil, nil
	}
	return b.snapshot(), nil
}

// snapshot copies the buffered samples so the returned window is immune to
// subsequent slides.
func (b *Buffer) snapshot() *models.WindowSnapshot {
	samples := make([]models.TelemetrySample, len(b.samples))
	copy(samples, b.samples)
	return &models.WindowSnapshot{Samples: samples, LastSeq: b.lastSeq}
}
