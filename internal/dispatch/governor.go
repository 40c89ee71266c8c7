package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Governor enforces a minimum wall-clock spacing between admitted dispatches.
// Confirmations arriving inside the interval are dropped, never queued, so
// provider load stays bounded under sustained anomalies.
type Governor struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
}

// NewGovernor creates a governor with the given minimum interval. A
// non-positive interval admits every dispatch.
func NewGovernor(minInterval time.Duration) *Governor {
	return &Governor{
		limiter:  rate.NewLimiter(limitFor(minInterval), 1),
		interval: minInterval,
	}
}

// Admit reports whether a dispatch may proceed now. Admission consumes the
// interval budget; rejected calls have no effect.
func (g *Governor) Admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limiter.Allow()
}

// SetInterval hot-reloads the minimum spacing, applied to the next dispatch.
func (g *Governor) SetInterval(minInterval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if minInterval == g.interval {
		return
	}
	g.interval = minInterval
	g.limiter.SetLimit(limitFor(minInterval))
}

// Interval returns the currently configured minimum spacing.
func (g *Governor) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

func limitFor(minInterval time.Duration) rate.Limit {
	if minInterval <= 0 {
		return rate.Inf
	}
	return rate.Every(minInterval)
}
