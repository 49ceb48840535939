package storage

import (
	"context"
	"encoding/json"

	"dex-analytics/internal/domain"
)

// LogStore provides access to the logs table.
type LogStore interface {
	// InsertIgnore adds logs, skipping rows whose (chain_id, block_number, tx_hash, log_index) exists.
	// Returns the number of rows actually inserted.
	InsertIgnore(ctx context.Context, logs []*domain.LogRecord) (int, error)

	// GetAfter returns up to limit logs strictly after pos with block_number <= maxBlock,
	// ordered by (block_number, log_index) ASC.
	GetAfter(ctx context.Context, chainID int64, names []string, pos domain.Position, maxBlock uint64, limit int) ([]*domain.LogRecord, error)

	// GetBefore returns up to limit logs strictly before pos with block_number >= minBlock,
	// ordered by (block_number, log_index) DESC.
	GetBefore(ctx context.Context, chainID int64, names []string, pos domain.Position, minBlock uint64, limit int) ([]*domain.LogRecord, error)
}

// BlockStore provides access to the blocks table.
type BlockStore interface {
	// InsertIgnore adds blocks, skipping existing (chain_id, number).
	InsertIgnore(ctx context.Context, blocks []*domain.Block) error

	// GetByNumbers returns the known blocks among numbers, keyed by number.
	GetByNumbers(ctx context.Context, chainID int64, numbers []uint64) (map[uint64]*domain.Block, error)
}

// TransactionStore provides access to the transactions table.
type TransactionStore interface {
	// InsertIgnore adds transactions, skipping existing (chain_id, hash).
	InsertIgnore(ctx context.Context, txs []*domain.Transaction) error

	// GetByHash retrieves a transaction. Returns ErrNotFound if not exists.
	GetByHash(ctx context.Context, chainID int64, hash string) (*domain.Transaction, error)
}

// MetaStore provides access to the meta key-value table.
type MetaStore interface {
	// Get returns the entry for key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) (*domain.Meta, error)

	// Set inserts or replaces the value for key.
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// LedgerTx is the write side of one ledger batch.
// Nothing is visible to readers until the enclosing WithTx returns nil.
type LedgerTx interface {
	// InsertDerivedState appends rows. Returns ErrDuplicateKey if any
	// (chain_id, type, symbol, block_number, log_index) exists.
	InsertDerivedState(ctx context.Context, rows []*domain.DerivedStateRow) error

	// SetMeta upserts a cursor.
	SetMeta(ctx context.Context, key string, value json.RawMessage) error
}

// DerivedStateStore provides access to the append-only derived_state ledger.
type DerivedStateStore interface {
	// WithTx runs fn in one transaction. Any error from fn rolls back every write.
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// Latest returns the row with the highest (block_number, log_index) per symbol.
	Latest(ctx context.Context, chainID int64, typ string) ([]*domain.DerivedStateRow, error)

	// GetByTimeRange returns rows for a symbol within [start, end] (inclusive),
	// ordered by (block_number, log_index) ASC.
	GetByTimeRange(ctx context.Context, chainID int64, typ, symbol string, start, end int64) ([]*domain.DerivedStateRow, error)
}

// CandleArchive is the durable copy of in-memory series, used for warm start.
type CandleArchive interface {
	// Write upserts candles. A later write for the same (key, t) supersedes earlier ones.
	Write(ctx context.Context, key domain.SeriesKey, candles []domain.Candle) error

	// Load returns the archived series for key with t >= since, ordered by t ASC.
	Load(ctx context.Context, key domain.SeriesKey, since int64) ([]domain.Candle, error)
}
