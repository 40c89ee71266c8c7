package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/driftstack/drift-engine/internal/models"
	"github.com/driftstack/drift-engine/internal/utils"
)

const (
	recordKeyPrefix = "hist:"
	indexKeyPrefix  = "corr:"
)

// BadgerStore persists history records in an embedded Badger database.
// Record keys embed the completion timestamp so range queries iterate in
// time order; a secondary index maps correlation ids to record keys.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// BadgerOptions configures the embedded database.
type BadgerOptions struct {
	Path     string
	InMemory bool
}

// NewBadgerStore opens (or creates) the history database.
func NewBadgerStore(opts BadgerOptions, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("history path is required")
	}

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, utils.NewAppError("history.open", "failed to open history database", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// Append writes one record plus its correlation-id index entry.
func (s *BadgerStore) Append(ctx context.Context, record models.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	key := recordKey(record)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, payload); err != nil {
			return err
		}
		return txn.Set([]byte(indexKeyPrefix+record.CorrelationID), key)
	})
}

// QueryRange iterates records whose completion time falls inside the bounds,
// oldest first, up to the query limit.
func (s *BadgerStore) QueryRange(ctx context.Context, query models.HistoryQuery) ([]models.HistoryRecord, error) {
	out := make([]models.HistoryRecord, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(recordKeyPrefix)
		if !query.Start.IsZero() {
			seek = []byte(fmt.Sprintf("%s%020d", recordKeyPrefix, query.Start.UnixNano()))
		}

		for it.Seek(seek); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record models.HistoryRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			if !query.End.IsZero() && record.CompletedAt.After(query.End) {
				break
			}
			out = append(out, record)
			if query.Limit > 0 && len(out) >= query.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, utils.NewAppError("history.query", "failed to query history range", err)
	}
	return out, nil
}

// GetByCorrelationID resolves the index entry and loads the record.
func (s *BadgerStore) GetByCorrelationID(ctx context.Context, correlationID string) (models.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.HistoryRecord{}, err
	}

	var record models.HistoryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		indexItem, err := txn.Get([]byte(indexKeyPrefix + correlationID))
		if err != nil {
			return err
		}
		var key []byte
		if err := indexItem.Value(func(val []byte) error {
			key = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.HistoryRecord{}, ErrNotFound
	}
	if err != nil {
		return models.HistoryRecord{}, utils.NewAppError("history.get", "failed to load history record", err)
	}
	return record, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// recordKey builds a time-ordered key; the correlation id suffix breaks ties
// between records completing in the same nanosecond.
func recordKey(record models.HistoryRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", recordKeyPrefix, record.CompletedAt.UnixNano(), record.CorrelationID))
}
