package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftstack/drift-engine/internal/cache"
	"github.com/driftstack/drift-engine/internal/models"
)

// CachedStore is a read-through decorator caching range queries, which the
// API serves far more often than the pipeline appends. Appends invalidate
// nothing: range keys embed the query bounds and carry a short TTL, so stale
// windows age out on their own.
type CachedStore struct {
	inner    Store
	provider cache.Provider
	ttl      time.Duration
	logger   *slog.Logger
}

// NewCachedStore wraps inner with query caching. A nil or noop provider makes
// the decorator pass-through.
func NewCachedStore(inner Store, provider cache.Provider, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{inner: inner, provider: provider, ttl: ttl, logger: logger}
}

// Append writes through to the inner store.
func (s *CachedStore) Append(ctx context.Context, record models.HistoryRecord) error {
	return s.inner.Append(ctx, record)
}

// QueryRange serves from cache when possible, falling back to the store.
func (s *CachedStore) QueryRange(ctx context.Context, query models.HistoryQuery) ([]models.HistoryRecord, error) {
	key := rangeKey(query)

	if payload, err := s.provider.Get(ctx, key); err == nil {
		var records []models.HistoryRecord
		if err := json.Unmarshal(payload, &records); err == nil {
			return records, nil
		}
		s.logger.Warn("dropping undecodable history cache entry", slog.String("key", key))
		_ = s.provider.Del(ctx, key)
	}

	records, err := s.inner.QueryRange(ctx, query)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(records); err == nil {
		if err := s.provider.Set(ctx, key, payload, s.ttl); err != nil {
			s.logger.Debug("history cache write failed", slog.Any("error", err))
		}
	}
	return records, nil
}

// GetByCorrelationID always hits the inner store; single-record lookups are
// cheap against the index.
func (s *CachedStore) GetByCorrelationID(ctx context.Context, correlationID string) (models.HistoryRecord, error) {
	return s.inner.GetByCorrelationID(ctx, correlationID)
}

// Close closes the inner store; the cache provider is owned by the caller.
func (s *CachedStore) Close() error {
	return s.inner.Close()
}

func rangeKey(query models.HistoryQuery) string {
	return fmt.Sprintf("drift:history:%d:%d:%d", query.Start.UnixNano(), query.End.UnixNano(), query.Limit)
}
