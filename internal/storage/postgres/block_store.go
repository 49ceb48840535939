package postgres

import (
	"context"
	"fmt"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// BlockStore implements storage.BlockStore using PostgreSQL.
type BlockStore struct {
	pool *Pool
}

// NewBlockStore creates a new BlockStore.
func NewBlockStore(pool *Pool) *BlockStore {
	return &BlockStore{pool: pool}
}

var _ storage.BlockStore = (*BlockStore)(nil)

// InsertIgnore adds blocks, skipping existing numbers.
func (s *BlockStore) InsertIgnore(ctx context.Context, blocks []*domain.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, b := range blocks {
		if b == nil || b.Hash == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO blocks (chain_id, number, hash, timestamp)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chain_id, number) DO NOTHING
		`, b.ChainID, int64(b.Number), b.Hash, b.Timestamp)
		if err != nil {
			return fmt.Errorf("insert block: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByNumbers returns the known blocks among numbers.
func (s *BlockStore) GetByNumbers(ctx context.Context, chainID int64, numbers []uint64) (map[uint64]*domain.Block, error) {
	result := make(map[uint64]*domain.Block, len(numbers))
	if len(numbers) == 0 {
		return result, nil
	}

	ns := make([]int64, len(numbers))
	for i, n := range numbers {
		ns[i] = int64(n)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, number, hash, timestamp
		FROM blocks
		WHERE chain_id = $1 AND number = ANY($2)
	`, chainID, ns)
	if err != nil {
		return nil, fmt.Errorf("get blocks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b      domain.Block
			number int64
		)
		if err := rows.Scan(&b.ChainID, &number, &b.Hash, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("scan block row: %w", err)
		}
		b.Number = uint64(number)
		result[b.Number] = &b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate block rows: %w", err)
	}
	return result, nil
}
