package memory

import (
	"context"
	"testing"

	"dex-analytics/internal/domain"
)

func testLog(block uint64, tx string, idx uint, name string) *domain.LogRecord {
	return &domain.LogRecord{
		ChainID:     42161,
		BlockNumber: block,
		BlockHash:   "0xb",
		TxHash:      tx,
		LogIndex:    idx,
		Name:        name,
		Args:        []string{"0xabc", "100"},
	}
}

func TestLogStore_InsertIgnore(t *testing.T) {
	store := NewLogStore()
	ctx := context.Background()

	logs := []*domain.LogRecord{
		testLog(10, "0x1", 0, "IncreasePoolAmount"),
		testLog(10, "0x1", 1, "DecreasePoolAmount"),
	}

	n, err := store.InsertIgnore(ctx, logs)
	if err != nil {
		t.Fatalf("InsertIgnore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 inserted, got %d", n)
	}

	// Replaying the same page must not duplicate
	n, err = store.InsertIgnore(ctx, logs)
	if err != nil {
		t.Fatalf("second InsertIgnore failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 inserted on replay, got %d", n)
	}
}

func TestLogStore_GetAfterAndBefore(t *testing.T) {
	store := NewLogStore()
	ctx := context.Background()

	_, err := store.InsertIgnore(ctx, []*domain.LogRecord{
		testLog(12, "0x3", 0, "IncreasePoolAmount"),
		testLog(10, "0x1", 5, "IncreasePoolAmount"),
		testLog(11, "0x2", 0, "Transfer"),
		testLog(10, "0x1", 2, "DecreasePoolAmount"),
	})
	if err != nil {
		t.Fatalf("InsertIgnore failed: %v", err)
	}

	names := []string{"IncreasePoolAmount", "DecreasePoolAmount"}

	after, err := store.GetAfter(ctx, 42161, names, domain.Position{BlockNumber: 10, LogIndex: 2}, 100, 10)
	if err != nil {
		t.Fatalf("GetAfter failed: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("Expected 2 logs after, got %d", len(after))
	}
	if after[0].BlockNumber != 10 || after[0].LogIndex != 5 || after[1].BlockNumber != 12 {
		t.Errorf("Unexpected ascending order: %+v, %+v", after[0], after[1])
	}

	capped, err := store.GetAfter(ctx, 42161, names, domain.Position{}, 11, 10)
	if err != nil {
		t.Fatalf("GetAfter failed: %v", err)
	}
	if len(capped) != 2 {
		t.Errorf("Expected maxBlock to exclude block 12, got %d logs", len(capped))
	}

	before, err := store.GetBefore(ctx, 42161, names, domain.Position{BlockNumber: 12, LogIndex: domain.SeedLogIndex}, 0, 2)
	if err != nil {
		t.Fatalf("GetBefore failed: %v", err)
	}
	if len(before) != 2 {
		t.Fatalf("Expected limit of 2, got %d", len(before))
	}
	if before[0].BlockNumber != 12 || before[1].LogIndex != 5 {
		t.Errorf("Unexpected descending order: %+v, %+v", before[0], before[1])
	}
}

func TestMetaStore_Upsert(t *testing.T) {
	store := NewMetaStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "cursor"); err == nil {
		t.Fatal("Expected ErrNotFound for missing key")
	}

	if err := store.Set(ctx, "cursor", []byte(`{"block":1}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "cursor", []byte(`{"block":2}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	m, err := store.Get(ctx, "cursor")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(m.Value) != `{"block":2}` {
		t.Errorf("Expected latest value, got %s", m.Value)
	}

	if err := store.Set(ctx, "bad", []byte(`{`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
