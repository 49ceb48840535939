package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// DerivedStateStore implements storage.DerivedStateStore using PostgreSQL.
type DerivedStateStore struct {
	pool *Pool
}

// NewDerivedStateStore creates a new DerivedStateStore.
func NewDerivedStateStore(pool *Pool) *DerivedStateStore {
	return &DerivedStateStore{pool: pool}
}

var _ storage.DerivedStateStore = (*DerivedStateStore)(nil)

type ledgerTx struct {
	tx pgx.Tx
}

// InsertDerivedState appends rows. A duplicate position fails the whole transaction.
func (t *ledgerTx) InsertDerivedState(ctx context.Context, rows []*domain.DerivedStateRow) error {
	query := `
		INSERT INTO derived_state (
			chain_id, type, symbol, value, value_hex, timestamp, block_number, log_index
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`
	for _, r := range rows {
		if r == nil || r.Value == nil || r.Type == "" || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
		_, err := t.tx.Exec(ctx, query,
			r.ChainID,
			r.Type,
			r.Symbol,
			r.Value.String(),
			r.ValueHex,
			r.Timestamp,
			int64(r.BlockNumber),
			r.LogIndex,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert derived state: %w", err)
		}
	}
	return nil
}

func (t *ledgerTx) SetMeta(ctx context.Context, key string, value json.RawMessage) error {
	return upsertMeta(ctx, t.tx, key, value)
}

// WithTx runs fn in one transaction and commits only if fn returns nil.
func (s *DerivedStateStore) WithTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Latest returns the newest row per symbol.
func (s *DerivedStateStore) Latest(ctx context.Context, chainID int64, typ string) ([]*domain.DerivedStateRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (symbol)
			chain_id, type, symbol, value::text, value_hex, timestamp, block_number, log_index
		FROM derived_state
		WHERE chain_id = $1 AND type = $2
		ORDER BY symbol ASC, block_number DESC, log_index DESC
	`, chainID, typ)
	if err != nil {
		return nil, fmt.Errorf("get latest derived state: %w", err)
	}
	defer rows.Close()

	return scanDerivedState(rows)
}

// GetByTimeRange returns rows for a symbol within [start, end].
func (s *DerivedStateStore) GetByTimeRange(ctx context.Context, chainID int64, typ, symbol string, start, end int64) ([]*domain.DerivedStateRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, type, symbol, value::text, value_hex, timestamp, block_number, log_index
		FROM derived_state
		WHERE chain_id = $1 AND type = $2 AND symbol = $3
		  AND timestamp >= $4 AND timestamp <= $5
		ORDER BY block_number ASC, log_index ASC
	`, chainID, typ, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("get derived state by time range: %w", err)
	}
	defer rows.Close()

	return scanDerivedState(rows)
}

func scanDerivedState(rows pgx.Rows) ([]*domain.DerivedStateRow, error) {
	var result []*domain.DerivedStateRow

	for rows.Next() {
		var (
			r           domain.DerivedStateRow
			value       string
			blockNumber int64
		)
		if err := rows.Scan(
			&r.ChainID,
			&r.Type,
			&r.Symbol,
			&value,
			&r.ValueHex,
			&r.Timestamp,
			&blockNumber,
			&r.LogIndex,
		); err != nil {
			return nil, fmt.Errorf("scan derived state row: %w", err)
		}
		v, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("decode derived state value %q", value)
		}
		r.Value = v
		r.BlockNumber = uint64(blockNumber)
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate derived state rows: %w", err)
	}
	return result, nil
}
