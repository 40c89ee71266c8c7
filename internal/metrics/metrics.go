package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DispatchAdmitted labels dispatches that passed governor and capacity checks.
	DispatchAdmitted = "admitted"
	// DispatchRateLimited labels dispatches rejected by the rate governor.
	DispatchRateLimited = "rate_limited"
)

var (
	samplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drift_engine",
			Name:      "samples_total",
			Help:      "Total telemetry samples accepted by the window buffer.",
		},
	)

	rejectedSamplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drift_engine",
			Name:      "rejected_samples_total",
			Help:      "Samples rejected for out-of-order sequence numbers.",
		},
	)

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drift_engine",
			Name:      "evaluations_total",
			Help:      "Window evaluations, partitioned by gate outcome.",
		},
		[]string{"state"},
	)

	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drift_engine",
			Name:      "dispatches_total",
			Help:      "Dispatch attempts on confirmed anomalies, by outcome.",
		},
		[]string{"outcome"},
	)

	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drift_engine",
			Name:      "evictions_total",
			Help:      "Pending requests evicted under the max in-flight cap.",
		},
	)

	discardedResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drift_engine",
			Name:      "discarded_responses_total",
			Help:      "Provider responses whose request was already gone.",
		},
	)

	providerResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drift_engine",
			Name:      "provider_responses_total",
			Help:      "Provider call outcomes, partitioned by provider and status.",
		},
		[]string{"provider", "status"},
	)

	providerLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drift_engine",
			Name:      "provider_latency_seconds",
			Help:      "Provider call round-trip latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	deviationScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "drift_engine",
			Name:      "deviation_score",
			Help:      "Most recent deviation score.",
		},
	)
)

// Register attaches drift-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesTotal,
		rejectedSamplesTotal,
		evaluationsTotal,
		dispatchesTotal,
		evictionsTotal,
		discardedResponsesTotal,
		providerResponsesTotal,
		providerLatencySeconds,
		deviationScore,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSample counts one accepted telemetry sample.
func ObserveSample() { samplesTotal.Inc() }

// ObserveRejectedSample counts one out-of-order rejection.
func ObserveRejectedSample() { rejectedSamplesTotal.Inc() }

// ObserveEvaluation records a window evaluation outcome and its score.
func ObserveEvaluation(state string, score float64) {
	evaluationsTotal.WithLabelValues(state).Inc()
	deviationScore.Set(score)
}

// ObserveDispatch counts a dispatch attempt by outcome label.
func ObserveDispatch(outcome string) { dispatchesTotal.WithLabelValues(outcome).Inc() }

// ObserveEviction counts one overload eviction.
func ObserveEviction() { evictionsTotal.Inc() }

// ObserveDiscardedResponse counts a response discarded for a missing request.
func ObserveDiscardedResponse() { discardedResponsesTotal.Inc() }

// ObserveProviderResponse records a provider call outcome and latency.
func ObserveProviderResponse(provider, status string, latency time.Duration) {
	providerResponsesTotal.WithLabelValues(provider, status).Inc()
	if latency < 0 {
		latency = 0
	}
	providerLatencySeconds.WithLabelValues(provider).Observe(latency.Seconds())
}
