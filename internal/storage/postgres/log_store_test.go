package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

func testLog(block uint64, tx string, idx uint, name string) *domain.LogRecord {
	return &domain.LogRecord{
		ChainID:     42161,
		Address:     "0xvault",
		BlockNumber: block,
		BlockHash:   "0xhash",
		TxHash:      tx,
		LogIndex:    idx,
		Name:        name,
		Args:        []string{"0xabc", "1000"},
	}
}

func TestLogStore_InsertIgnoreIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLogStore(pool)

	logs := []*domain.LogRecord{
		testLog(100, "0x1", 0, "IncreasePoolAmount"),
		testLog(100, "0x1", 1, "DecreasePoolAmount"),
		testLog(101, "0x2", 0, "IncreasePoolAmount"),
	}

	n, err := store.InsertIgnore(ctx, logs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.InsertIgnore(ctx, logs)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLogStore_OrderedReads(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLogStore(pool)

	_, err := store.InsertIgnore(ctx, []*domain.LogRecord{
		testLog(102, "0x3", 4, "IncreasePoolAmount"),
		testLog(100, "0x1", 7, "IncreasePoolAmount"),
		testLog(101, "0x2", 0, "Transfer"),
		testLog(100, "0x1", 2, "DecreasePoolAmount"),
	})
	require.NoError(t, err)

	names := []string{"IncreasePoolAmount", "DecreasePoolAmount"}

	after, err := store.GetAfter(ctx, 42161, names, domain.Position{BlockNumber: 100, LogIndex: 2}, 1000, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, uint(7), after[0].LogIndex)
	assert.Equal(t, uint64(102), after[1].BlockNumber)
	assert.Equal(t, []string{"0xabc", "1000"}, after[0].Args)

	before, err := store.GetBefore(ctx, 42161, names, domain.Position{BlockNumber: 102, LogIndex: domain.SeedLogIndex}, 100, 10)
	require.NoError(t, err)
	require.Len(t, before, 3)
	assert.Equal(t, uint64(102), before[0].BlockNumber)
	assert.Equal(t, uint(7), before[1].LogIndex)
	assert.Equal(t, uint(2), before[2].LogIndex)

	bounded, err := store.GetBefore(ctx, 42161, names, domain.Position{BlockNumber: 102, LogIndex: domain.SeedLogIndex}, 101, 10)
	require.NoError(t, err)
	assert.Len(t, bounded, 1)
}

func TestBlockAndTransactionStores(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	blocks := NewBlockStore(pool)
	txs := NewTransactionStore(pool)

	require.NoError(t, blocks.InsertIgnore(ctx, []*domain.Block{
		{ChainID: 42161, Number: 10, Hash: "0xa", Timestamp: 1700000000},
		{ChainID: 42161, Number: 11, Hash: "0xb", Timestamp: 1700000010},
	}))
	// replay is ignored
	require.NoError(t, blocks.InsertIgnore(ctx, []*domain.Block{{ChainID: 42161, Number: 10, Hash: "0xa", Timestamp: 1700000000}}))

	got, err := blocks.GetByNumbers(ctx, 42161, []uint64{10, 11, 12})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(1700000010), got[11].Timestamp)

	require.NoError(t, txs.InsertIgnore(ctx, []*domain.Transaction{
		{ChainID: 42161, Hash: "0xt", From: "0xf", To: "0xv", BlockNumber: 10},
	}))
	tx, err := txs.GetByHash(ctx, 42161, "0xt")
	require.NoError(t, err)
	assert.Equal(t, "0xv", tx.To)

	_, err = txs.GetByHash(ctx, 42161, "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
