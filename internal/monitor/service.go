// Package monitor owns the ingestion path: samples flow through the window
// buffer and detector in strict arrival order, and confirmed anomalies are
// handed to the dispatcher without ever blocking on provider completion.
package monitor

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/driftstack/drift-engine/internal/baseline"
	"github.com/driftstack/drift-engine/internal/config"
	"github.com/driftstack/drift-engine/internal/detector"
	"github.com/driftstack/drift-engine/internal/dispatch"
	"github.com/driftstack/drift-engine/internal/metrics"
	"github.com/driftstack/drift-engine/internal/models"
	"github.com/driftstack/drift-engine/internal/window"
)

// Runtime holds the hot-reloadable detection parameters. A new Runtime is
// swapped in atomically and applies to the next evaluation, never
// retroactively.
type Runtime struct {
	WindowSize          int
	Decimation          int
	ConsecutiveTriggers int
	TopContributors     int
	VarianceFraction    float64
	ConfidenceLevel     float64
}

// RuntimeFromConfig extracts the runtime parameters from a loaded config.
func RuntimeFromConfig(cfg *config.Config) Runtime {
	return Runtime{
		WindowSize:          cfg.Detection.WindowSize,
		Decimation:          cfg.Detection.Decimation,
		ConsecutiveTriggers: cfg.Detection.ConsecutiveTriggers,
		TopContributors:     cfg.Detection.TopContributors,
		VarianceFraction:    cfg.Detection.VarianceFraction,
		ConfidenceLevel:     cfg.Detection.ConfidenceLevel,
	}
}

// IngestResult reports what happened to one sample.
type IngestResult struct {
	Accepted      bool
	Evaluated     bool
	Score         float64
	Raw           bool
	Confirmed     bool
	Dispatched    bool
	CorrelationID string
}

// BatchResult aggregates a batch push.
type BatchResult struct {
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Evaluated  int `json:"evaluated"`
	Confirmed  int `json:"confirmed"`
	Dispatched int `json:"dispatched"`
}

// Service serializes sample ingestion and routes confirmed anomalies into
// the dispatcher.
type Service struct {
	logger     *slog.Logger
	detector   *detector.Detector
	dispatcher *dispatch.Dispatcher
	governor   *dispatch.Governor

	runtime atomic.Pointer[Runtime]

	// mu serializes the ingestion path; ordering and gating state depend on
	// strictly sequential evaluation.
	mu          sync.Mutex
	buffer      *window.Buffer
	hasAccepted bool
	lastSeq     uint64
}

// New constructs the monitor service with an empty window buffer.
func New(logger *slog.Logger, det *detector.Detector, dispatcher *dispatch.Dispatcher, governor *dispatch.Governor, runtime Runtime) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	buffer, err := window.NewBuffer(runtime.WindowSize, runtime.Decimation)
	if err != nil {
		return nil, err
	}

	s := &Service{
		logger:     logger,
		detector:   det,
		dispatcher: dispatcher,
		governor:   governor,
		buffer:     buffer,
	}
	s.runtime.Store(&runtime)
	return s, nil
}

// ApplyConfig hot-reloads runtime and dispatch parameters from a freshly
// loaded config. Window-shape changes rebuild the buffer (empty) on the next
// push; everything else applies to the next evaluation or dispatch.
func (s *Service) ApplyConfig(cfg *config.Config) {
	runtime := RuntimeFromConfig(cfg)
	s.runtime.Store(&runtime)

	if s.governor != nil {
		s.governor.SetInterval(cfg.Dispatch.MinDispatchInterval)
	}
	if s.dispatcher != nil {
		s.dispatcher.Update(dispatch.Settings{
			MaxInFlight:     cfg.Dispatch.MaxInFlight,
			ProviderTimeout: cfg.Dispatch.ProviderTimeout,
		})
	}
	s.logger.Info("runtime settings applied",
		slog.Int("window_size", runtime.WindowSize),
		slog.Int("consecutive_triggers", runtime.ConsecutiveTriggers),
		slog.Int("max_in_flight", cfg.Dispatch.MaxInFlight))
}

// Runtime returns the current runtime settings snapshot.
func (s *Service) Runtime() Runtime {
	return *s.runtime.Load()
}

// FitBaseline fits a model from a known-normal corpus and installs it
// atomically. The gating state machine resets so the new threshold starts
// from Normal.
func (s *Service) FitBaseline(corpus []models.TelemetrySample, opts baseline.FitOptions) (*baseline.Model, error) {
	runtime := s.runtime.Load()
	if opts.VarianceFraction == 0 {
		opts.VarianceFraction = runtime.VarianceFraction
	}
	if opts.ConfidenceLevel == 0 {
		opts.ConfidenceLevel = runtime.ConfidenceLevel
	}

	model, err := baseline.Fit(corpus, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.detector.Install(model)
	s.detector.ResetGate()
	s.mu.Unlock()
	return model, nil
}

// Ingest pushes one sample through the pipeline. Out-of-order samples are
// rejected with window.ErrOutOfOrderSample; a missing baseline model is
// reported as detector.ErrModelNotFitted once the window fills. Neither
// error stops ingestion.
func (s *Service) Ingest(sample models.TelemetrySample) (IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runtime := s.runtime.Load()
	s.reshapeLocked(runtime)

	// The ordering guard outlives buffer rebuilds, which start empty.
	if s.hasAccepted && sample.Seq <= s.lastSeq {
		metrics.ObserveRejectedSample()
		return IngestResult{}, window.ErrOutOfOrderSample
	}

	snapshot, err := s.buffer.Push(sample)
	if err != nil {
		metrics.ObserveRejectedSample()
		return IngestResult{}, err
	}
	s.hasAccepted = true
	s.lastSeq = sample.Seq
	metrics.ObserveSample()

	result := IngestResult{Accepted: true}
	if snapshot == nil {
		return result, nil
	}

	eval, err := s.detector.Evaluate(snapshot, runtime.ConsecutiveTriggers, runtime.TopContributors)
	if err != nil {
		if errors.Is(err, detector.ErrModelNotFitted) {
			return result, err
		}
		s.logger.Error("evaluation failed", slog.Uint64("seq", sample.Seq), slog.Any("error", err))
		return result, err
	}

	result.Evaluated = true
	result.Score = eval.Result.Score
	result.Raw = eval.Raw
	result.Confirmed = eval.Confirmed
	metrics.ObserveEvaluation(string(eval.State), eval.Result.Score)

	if eval.Confirmed && s.dispatcher != nil {
		request, dispatched := s.dispatcher.Dispatch(eval.Result)
		result.Dispatched = dispatched
		if dispatched {
			result.CorrelationID = request.CorrelationID
		}
	}
	return result, nil
}

// IngestBatch pushes samples in order, recovering locally from per-sample
// rejections so one bad sample never stalls the stream.
func (s *Service) IngestBatch(samples []models.TelemetrySample) BatchResult {
	var batch BatchResult
	for _, sample := range samples {
		result, err := s.Ingest(sample)
		if err != nil {
			if errors.Is(err, window.ErrOutOfOrderSample) {
				batch.Rejected++
				continue
			}
			if errors.Is(err, detector.ErrModelNotFitted) {
				// Sample accepted, evaluation refused until a fit arrives.
				batch.Accepted++
				continue
			}
			batch.Rejected++
			continue
		}
		if result.Accepted {
			batch.Accepted++
		}
		if result.Evaluated {
			batch.Evaluated++
		}
		if result.Confirmed {
			batch.Confirmed++
		}
		if result.Dispatched {
			batch.Dispatched++
		}
	}
	return batch
}

// Status summarises the pipeline state for the API.
type Status struct {
	ModelFitted     bool    `json:"model_fitted"`
	ModelComponents int     `json:"model_components,omitempty"`
	ModelThreshold  float64 `json:"model_threshold,omitempty"`
	WindowFill      int     `json:"window_fill"`
	WindowSize      int     `json:"window_size"`
	LastSeq         uint64  `json:"last_seq"`
	PendingRequests int     `json:"pending_requests"`
}

// Status reports the current pipeline state.
func (s *Service) Status() Status {
	s.mu.Lock()
	fill := s.buffer.Len()
	size := s.buffer.Size()
	lastSeq := s.lastSeq
	s.mu.Unlock()

	status := Status{
		WindowFill: fill,
		WindowSize: size,
		LastSeq:    lastSeq,
	}
	if model := s.detector.Model(); model != nil {
		status.ModelFitted = true
		status.ModelComponents = model.Components()
		status.ModelThreshold = model.Threshold
	}
	if s.dispatcher != nil {
		status.PendingRequests = s.dispatcher.PendingCount()
	}
	return status
}

// reshapeLocked rebuilds the buffer when hot-reloaded window parameters no
// longer match. The new buffer starts empty; gating state resets too since
// scores from different window shapes are not comparable.
func (s *Service) reshapeLocked(runtime *Runtime) {
	decimation := runtime.Decimation
	if decimation < 1 {
		decimation = 1
	}
	if s.buffer.Size() == runtime.WindowSize && s.bufferDecimation() == decimation {
		return
	}
	buffer, err := window.NewBuffer(runtime.WindowSize, decimation)
	if err != nil {
		s.logger.Error("invalid window parameters, keeping previous buffer", slog.Any("error", err))
		return
	}
	s.buffer = buffer
	s.detector.ResetGate()
	s.logger.Info("window buffer rebuilt",
		slog.Int("size", runtime.WindowSize), slog.Int("decimation", decimation))
}

func (s *Service) bufferDecimation() int {
	return s.buffer.Decimation()
}
