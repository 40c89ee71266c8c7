// Package history persists diagnosis records. Append is the only write the
// core ever performs; records are immutable once written.
package history

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/driftstack/drift-engine/internal/models"
)

// ErrNotFound signals that no record exists for the requested correlation id.
var ErrNotFound = errors.New("history record not found")

// Store is the append/query contract over diagnosis history.
type Store interface {
	Append(ctx context.Context, record models.HistoryRecord) error
	QueryRange(ctx context.Context, query models.HistoryQuery) ([]models.HistoryRecord, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (models.HistoryRecord, error)
	Close() error
}

// MemoryStore is an in-process Store used in tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.HistoryRecord
	byID    map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// Append stores a copy of the record.
func (s *MemoryStore) Append(ctx context.Context, record models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[record.CorrelationID] = len(s.records)
	s.records = append(s.records, record)
	return nil
}

// QueryRange returns records whose completion time falls inside the query
// bounds, oldest first.
func (s *MemoryStore) QueryRange(ctx context.Context, query models.HistoryQuery) ([]models.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.HistoryRecord, 0)
	for _, record := range s.records {
		if !query.Start.IsZero() && record.CompletedAt.Before(query.Start) {
			continue
		}
		if !query.End.IsZero() && record.CompletedAt.After(query.End) {
			continue
		}
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(out[j].CompletedAt)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// GetByCorrelationID returns the record for the given id.
func (s *MemoryStore) GetByCorrelationID(ctx context.Context, correlationID string) (models.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[correlationID]
	if !ok {
		return models.HistoryRecord{}, ErrNotFound
	}
	return s.records[idx], nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a copy of all stored records in append order.
func (s *MemoryStore) Records() []models.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.HistoryRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
