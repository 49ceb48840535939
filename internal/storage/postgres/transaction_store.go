package postgres

import (
	"context"
	"fmt"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

var _ storage.TransactionStore = (*TransactionStore)(nil)

// InsertIgnore adds transactions, skipping existing hashes.
func (s *TransactionStore) InsertIgnore(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range txs {
		if t == nil || t.Hash == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (chain_id, hash, to_address, from_address, block_number)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (chain_id, hash) DO NOTHING
		`, t.ChainID, t.Hash, t.To, t.From, int64(t.BlockNumber))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByHash retrieves a transaction by hash.
func (s *TransactionStore) GetByHash(ctx context.Context, chainID int64, hash string) (*domain.Transaction, error) {
	var (
		t           domain.Transaction
		blockNumber int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT chain_id, hash, to_address, from_address, block_number
		FROM transactions
		WHERE chain_id = $1 AND hash = $2
	`, chainID, hash).Scan(&t.ChainID, &t.Hash, &t.To, &t.From, &blockNumber)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	t.BlockNumber = uint64(blockNumber)
	return &t, nil
}
