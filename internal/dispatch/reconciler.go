package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftstack/drift-engine/internal/metrics"
	"github.com/driftstack/drift-engine/internal/models"
	"github.com/driftstack/drift-engine/internal/utils"
)

// Reconciler is the sole consumer of provider completion messages. It
// correlates responses back to pending requests by correlation id, assembles
// HistoryRecords once every targeted provider has reported, and appends them
// to the sink in completion order.
type Reconciler struct {
	logger    *slog.Logger
	pending   *pendingTable
	sink      Sink
	latencies *utils.LatencyTracker

	completions <-chan models.ProviderResponse
}

// NewReconciler wires a reconciler to the dispatcher's completion stream.
func NewReconciler(logger *slog.Logger, dispatcher *Dispatcher, sink Sink) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		logger:      logger,
		pending:     dispatcher.pending,
		sink:        sink,
		latencies:   utils.NewLatencyTracker(1024),
		completions: dispatcher.completions,
	}
}

// Run consumes completions until ctx is cancelled. Intended to run on its
// own goroutine for the lifetime of the service.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case response := <-r.completions:
			r.onResponse(ctx, response)
		}
	}
}

// onResponse records a single provider completion. Responses for unknown
// correlation ids (evicted or already completed requests) are discarded.
func (r *Reconciler) onResponse(ctx context.Context, response models.ProviderResponse) {
	metrics.ObserveProviderResponse(response.Provider, string(response.Status), response.Latency)
	r.latencies.Observe(response.Latency)

	finished, found := r.pending.record(response)
	if !found {
		metrics.ObserveDiscardedResponse()
		r.logger.Debug("discarding response for unknown request",
			slog.String("correlation_id", response.CorrelationID),
			slog.String("provider", response.Provider))
		return
	}
	if finished == nil {
		return
	}

	finished.cancel()
	record := models.HistoryRecord{
		CorrelationID: finished.request.CorrelationID,
		Status:        models.RecordStatusCompleted,
		Request:       finished.request,
		Responses:     finished.collected(),
		CompletedAt:   time.Now().UTC(),
	}

	if r.sink != nil {
		appendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.sink.Append(appendCtx, record)
		cancel()
		if err != nil {
			r.logger.Error("failed to append history record",
				slog.String("correlation_id", record.CorrelationID), slog.Any("error", err))
			return
		}
	}

	r.logger.Info("diagnosis completed",
		slog.String("correlation_id", record.CorrelationID),
		slog.Int("responses", len(record.Responses)))
}

// LatencyP95 exposes the p95 provider round-trip latency for status reporting.
func (r *Reconciler) LatencyP95() time.Duration {
	return r.latencies.Percentile(95)
}
