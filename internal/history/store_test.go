package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftstack/drift-engine/internal/models"
)

func recordAt(id string, completedAt time.Time) models.HistoryRecord {
	return models.HistoryRecord{
		CorrelationID: id,
		Status:        models.RecordStatusCompleted,
		Request: models.DiagnosisRequest{
			CorrelationID: id,
			CreatedAt:     completedAt.Add(-time.Second),
			Detection:     models.DetectionResult{Score: 12.5, Threshold: 6.6},
			Providers:     []string{"rulepack"},
		},
		Responses: []models.ProviderResponse{
			{Provider: "rulepack", CorrelationID: id, Status: models.ProviderStatusSuccess, Text: "check the valve"},
		},
		CompletedAt: completedAt,
	}
}

func TestMemoryStoreQueryRangeBoundsAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		record := recordAt(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := store.Append(ctx, record); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := store.QueryRange(ctx, models.HistoryQuery{
		Start: base.Add(time.Minute),
		End:   base.Add(3 * time.Minute),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records in range, got %d", len(records))
	}
	if records[0].CorrelationID != "b" || records[2].CorrelationID != "d" {
		t.Fatalf("unexpected range contents: %s..%s", records[0].CorrelationID, records[2].CorrelationID)
	}

	limited, err := store.QueryRange(ctx, models.HistoryQuery{Limit: 2})
	if err != nil {
		t.Fatalf("limited query: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(limited))
	}
	if limited[0].CorrelationID != "a" {
		t.Fatalf("expected oldest record first, got %s", limited[0].CorrelationID)
	}
}

func TestMemoryStoreGetByCorrelationID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := recordAt("corr-1", time.Now().UTC())
	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.GetByCorrelationID(ctx, "corr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CorrelationID != "corr-1" || len(got.Responses) != 1 {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := store.GetByCorrelationID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	store, err := NewBadgerStore(BadgerOptions{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		record := recordAt(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := store.Append(ctx, record); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := store.QueryRange(ctx, models.HistoryQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].CompletedAt.Before(records[i-1].CompletedAt) {
			t.Fatal("expected records ordered oldest first")
		}
	}

	bounded, err := store.QueryRange(ctx, models.HistoryQuery{
		Start: base.Add(time.Minute),
		End:   base.Add(2 * time.Minute),
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("bounded query: %v", err)
	}
	if len(bounded) != 2 {
		t.Fatalf("expected 2 records in bounds, got %d", len(bounded))
	}

	got, err := store.GetByCorrelationID(ctx, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Responses[0].Text != "check the valve" {
		t.Fatalf("unexpected payload %+v", got.Responses)
	}

	if _, err := store.GetByCorrelationID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBadgerStoreRequiresPathOnDisk(t *testing.T) {
	if _, err := NewBadgerStore(BadgerOptions{}, nil); err == nil {
		t.Fatal("expected error for missing path")
	}
}
