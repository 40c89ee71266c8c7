package ingest

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftstack/drift-engine/internal/baseline"
	"github.com/driftstack/drift-engine/internal/dispatch"
	"github.com/driftstack/drift-engine/internal/history"
	"github.com/driftstack/drift-engine/internal/models"
	"github.com/driftstack/drift-engine/internal/monitor"
	"github.com/driftstack/drift-engine/internal/patterns"
	"github.com/driftstack/drift-engine/internal/utils"
)

const defaultQueryLimit = 100

// Handlers bundles the dependencies behind the HTTP surface.
type Handlers struct {
	logger     *slog.Logger
	monitor    *monitor.Service
	store      history.Store
	miner      *patterns.Miner
	reconciler *dispatch.Reconciler
}

// NewHandlers constructs the handler set.
func NewHandlers(logger *slog.Logger, svc *monitor.Service, store history.Store, miner *patterns.Miner, reconciler *dispatch.Reconciler) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:     logger,
		monitor:    svc,
		store:      store,
		miner:      miner,
		reconciler: reconciler,
	}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "SERVING"})
}

type sampleDTO struct {
	Seq       uint64             `json:"seq"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

type pushTelemetryRequest struct {
	Samples []sampleDTO `json:"samples"`
}

// PushTelemetry ingests a batch of samples in order. Out-of-order samples
// are rejected individually; the rest of the batch proceeds.
func (h *Handlers) PushTelemetry(c *gin.Context) {
	var req pushTelemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Samples) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "samples are required"})
		return
	}

	samples := make([]models.TelemetrySample, 0, len(req.Samples))
	for _, dto := range req.Samples {
		if len(dto.Values) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sample values are required"})
			return
		}
		ts := dto.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		samples = append(samples, models.TelemetrySample{Seq: dto.Seq, Timestamp: ts, Values: dto.Values})
	}

	result := h.monitor.IngestBatch(samples)
	c.JSON(http.StatusOK, result)
}

type fitBaselineRequest struct {
	Samples          []sampleDTO `json:"samples"`
	VarianceFraction float64     `json:"variance_fraction"`
	ConfidenceLevel  float64     `json:"confidence_level"`
}

type fitBaselineResponse struct {
	Variables  int       `json:"variables"`
	Components int       `json:"components"`
	Retained   float64   `json:"retained_variance"`
	Threshold  float64   `json:"threshold"`
	SampleSize int       `json:"sample_size"`
	FittedAt   time.Time `json:"fitted_at"`
}

// FitBaseline fits a baseline model from a known-normal corpus and installs
// it atomically; in-flight evaluations keep the model they loaded.
func (h *Handlers) FitBaseline(c *gin.Context) {
	var req fitBaselineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	corpus := make([]models.TelemetrySample, 0, len(req.Samples))
	for _, dto := range req.Samples {
		corpus = append(corpus, models.TelemetrySample{Seq: dto.Seq, Timestamp: dto.Timestamp, Values: dto.Values})
	}

	model, err := h.monitor.FitBaseline(corpus, baseline.FitOptions{
		VarianceFraction: req.VarianceFraction,
		ConfidenceLevel:  req.ConfidenceLevel,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, fitBaselineResponse{
		Variables:  len(model.Variables),
		Components: model.Components(),
		Retained:   model.Retained,
		Threshold:  model.Threshold,
		SampleSize: model.SampleSize,
		FittedAt:   model.FittedAt,
	})
}

// QueryHistory returns records in a time range, oldest first.
func (h *Handlers) QueryHistory(c *gin.Context) {
	query, ok := h.parseHistoryQuery(c)
	if !ok {
		return
	}

	records, err := h.store.QueryRange(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("history query failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// GetHistoryRecord returns one record by correlation id.
func (h *Handlers) GetHistoryRecord(c *gin.Context) {
	correlationID := c.Param("correlation_id")
	record, err := h.store.GetByCorrelationID(c.Request.Context(), correlationID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		h.logger.Error("history lookup failed", slog.String("correlation_id", correlationID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetPatterns mines recurring excursion signatures from stored history.
func (h *Handlers) GetPatterns(c *gin.Context) {
	query, ok := h.parseHistoryQuery(c)
	if !ok {
		return
	}
	// Mine over the full matching range, not just the first page.
	query.Limit = 0

	mined, err := h.miner.Mine(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("pattern mining failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mine patterns"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": mined})
}

type statusResponse struct {
	monitor.Status
	ProviderLatencyP95 string `json:"provider_latency_p95,omitempty"`
}

// Status reports pipeline and model state.
func (h *Handlers) Status(c *gin.Context) {
	resp := statusResponse{Status: h.monitor.Status()}
	if h.reconciler != nil {
		if p95 := h.reconciler.LatencyP95(); p95 > 0 {
			resp.ProviderLatencyP95 = p95.String()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) parseHistoryQuery(c *gin.Context) (models.HistoryQuery, bool) {
	query := models.HistoryQuery{Limit: defaultQueryLimit}

	if v := c.Query("start"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
			return query, false
		}
		query.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
			return query, false
		}
		query.End = t
	}
	if v := c.Query("limit"); v != "" {
		limit, err := parsePositiveInt(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return query, false
		}
		query.Limit = limit
	}
	return query, true
}
