// Package patterns mines recurring excursion signatures from diagnosis
// history.
package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/driftstack/drift-engine/internal/models"
)

// Source abstracts the history lookup the miner needs.
type Source interface {
	QueryRange(ctx context.Context, query models.HistoryQuery) ([]models.HistoryRecord, error)
}

// Miner aggregates history records into per-variable excursion patterns:
// which variables keep leading the contribution ranking, how hard, and when
// they were last seen.
type Miner struct {
	source Source
	logger *slog.Logger
}

// NewMiner constructs a Miner over the given history source.
func NewMiner(logger *slog.Logger, source Source) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{source: source, logger: logger}
}

// Mine loads records in the query range and returns patterns ordered by
// prevalence, most frequent leading variable first.
func (m *Miner) Mine(ctx context.Context, query models.HistoryQuery) ([]models.ExcursionPattern, error) {
	records, err := m.source.QueryRange(ctx, query)
	if err != nil {
		return nil, err
	}
	return m.aggregate(records), nil
}

func (m *Miner) aggregate(records []models.HistoryRecord) []models.ExcursionPattern {
	if len(records) == 0 {
		return nil
	}

	stats := make(map[string]*variableAggregate)
	for _, record := range records {
		contributors := record.Request.Detection.Contributors
		if len(contributors) == 0 {
			continue
		}
		lead := contributors[0]

		agg, ok := stats[lead.Variable]
		if !ok {
			agg = &variableAggregate{}
			stats[lead.Variable] = agg
		}
		agg.count++
		agg.scoreSum += record.Request.Detection.Score
		if record.Request.Detection.Score > agg.peak {
			agg.peak = record.Request.Detection.Score
		}
		if record.CompletedAt.After(agg.lastSeen) {
			agg.lastSeen = record.CompletedAt
		}
	}

	patterns := make([]models.ExcursionPattern, 0, len(stats))
	for variable, agg := range stats {
		patterns = append(patterns, models.ExcursionPattern{
			Variable:   variable,
			Count:      agg.count,
			Prevalence: float64(agg.count) / float64(len(records)),
			MeanScore:  agg.scoreSum / float64(agg.count),
			PeakScore:  agg.peak,
			LastSeen:   agg.lastSeen,
		})
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Variable < patterns[j].Variable
	})
	return patterns
}

type variableAggregate struct {
	count    int
	scoreSum float64
	peak     float64
	lastSeen time.Time
}
