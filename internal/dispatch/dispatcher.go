// Package dispatch fans confirmed anomalies out to diagnostic providers,
// reconciles their out-of-order completions, and governs dispatch rate.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftstack/drift-engine/internal/metrics"
	"github.com/driftstack/drift-engine/internal/models"
	"github.com/driftstack/drift-engine/internal/providers"
)

// Sink is the external persistence contract: append-only diagnosis history.
type Sink interface {
	Append(ctx context.Context, record models.HistoryRecord) error
}

// Settings are the hot-reloadable dispatch parameters, applied to the next
// dispatch, never retroactively.
type Settings struct {
	MaxInFlight     int
	ProviderTimeout time.Duration
}

// Dispatcher owns the DiagnosisRequest lifecycle: admission, concurrent
// provider fan-out, and eviction of the oldest pending request under
// overload. The ingestion path never blocks on a provider call.
type Dispatcher struct {
	logger    *slog.Logger
	providers []providers.Provider
	governor  *Governor
	sink      Sink

	settings    atomic.Pointer[Settings]
	pending     *pendingTable
	completions chan models.ProviderResponse
	done        chan struct{}
}

// NewDispatcher constructs a dispatcher over the given provider set.
func NewDispatcher(logger *slog.Logger, providerSet []providers.Provider, governor *Governor, sink Sink, settings Settings) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.MaxInFlight < 1 {
		settings.MaxInFlight = 1
	}
	if settings.ProviderTimeout <= 0 {
		settings.ProviderTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		logger:    logger,
		providers: providerSet,
		governor:  governor,
		sink:      sink,
		pending:   newPendingTable(),
		// Sized so provider goroutines rarely block handing off completions.
		completions: make(chan models.ProviderResponse, 64),
		done:        make(chan struct{}),
	}
	d.settings.Store(&settings)
	return d
}

// Update hot-reloads the dispatch settings.
func (d *Dispatcher) Update(settings Settings) {
	if settings.MaxInFlight < 1 {
		settings.MaxInFlight = 1
	}
	if settings.ProviderTimeout <= 0 {
		settings.ProviderTimeout = 30 * time.Second
	}
	d.settings.Store(&settings)
}

// PendingCount returns the number of requests with outstanding provider calls.
func (d *Dispatcher) PendingCount() int {
	return d.pending.len()
}

// Dispatch admits a confirmed anomaly for diagnosis. It returns the created
// request and true, or the zero request and false when the rate governor
// rejected the attempt. Dispatch is fire-and-forget: provider calls run on
// their own goroutines and report to the reconciler.
func (d *Dispatcher) Dispatch(detection models.DetectionResult) (models.DiagnosisRequest, bool) {
	if len(d.providers) == 0 {
		d.logger.Warn("no diagnostic providers configured, skipping dispatch")
		return models.DiagnosisRequest{}, false
	}
	if d.governor != nil && !d.governor.Admit() {
		metrics.ObserveDispatch(metrics.DispatchRateLimited)
		d.logger.Debug("dispatch suppressed by rate governor")
		return models.DiagnosisRequest{}, false
	}

	settings := d.settings.Load()

	names := make([]string, len(d.providers))
	for i, p := range d.providers {
		names[i] = p.Name()
	}
	request := models.DiagnosisRequest{
		CorrelationID: uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Detection:     detection,
		Providers:     names,
	}

	reqCtx, cancel := context.WithCancel(context.Background())
	if evicted := d.pending.admit(request, cancel, settings.MaxInFlight); evicted != nil {
		d.evict(evicted)
	}

	for _, provider := range d.providers {
		go d.invoke(reqCtx, provider, request, settings.ProviderTimeout)
	}

	metrics.ObserveDispatch(metrics.DispatchAdmitted)
	d.logger.Info("diagnosis dispatched",
		slog.String("correlation_id", request.CorrelationID),
		slog.Float64("score", detection.Score),
		slog.Int("providers", len(names)))
	return request, true
}

// invoke runs one provider call under its own timeout and delivers the typed
// completion to the reconciler channel.
func (d *Dispatcher) invoke(reqCtx context.Context, provider providers.Provider, request models.DiagnosisRequest, timeout time.Duration) {
	callCtx, cancel := context.WithTimeout(reqCtx, timeout)
	defer cancel()

	start := time.Now()
	text, err := provider.Analyze(callCtx, request.Detection)
	latency := time.Since(start)

	response := models.ProviderResponse{
		Provider:      provider.Name(),
		CorrelationID: request.CorrelationID,
		Latency:       latency,
	}
	switch {
	case err == nil:
		response.Status = models.ProviderStatusSuccess
		response.Text = text
	case errors.Is(err, context.DeadlineExceeded):
		response.Status = models.ProviderStatusTimeout
		response.Error = "provider call timed out"
	default:
		response.Status = models.ProviderStatusError
		response.Error = err.Error()
	}

	select {
	case d.completions <- response:
	case <-d.done:
	}
}

// evict cancels a request's outstanding calls and persists a Dropped record
// with whatever partial responses had arrived. The append runs off the
// ingestion path so overload handling never blocks detection.
func (d *Dispatcher) evict(entry *pendingRequest) {
	entry.cancel()
	metrics.ObserveEviction()
	d.logger.Warn("pending request evicted under overload",
		slog.String("correlation_id", entry.request.CorrelationID),
		slog.Int("responses_collected", len(entry.responses)))

	record := models.HistoryRecord{
		CorrelationID: entry.request.CorrelationID,
		Status:        models.RecordStatusDropped,
		Request:       entry.request,
		Responses:     entry.collected(),
		CompletedAt:   time.Now().UTC(),
	}
	go d.append(record)
}

func (d *Dispatcher) append(record models.HistoryRecord) {
	if d.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.sink.Append(ctx, record); err != nil {
		d.logger.Error("failed to append dropped record",
			slog.String("correlation_id", record.CorrelationID), slog.Any("error", err))
	}
}

// Close cancels every pending request and persists Dropped records for them.
// Call after the reconciler has stopped.
func (d *Dispatcher) Close() {
	close(d.done)
	for _, entry := range d.pending.drain() {
		d.evict(entry)
	}
}
