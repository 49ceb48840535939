package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// LogStore implements storage.LogStore using PostgreSQL.
type LogStore struct {
	pool *Pool
}

// NewLogStore creates a new LogStore.
func NewLogStore(pool *Pool) *LogStore {
	return &LogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LogStore = (*LogStore)(nil)

// InsertIgnore adds logs in one transaction, skipping rows that already exist.
func (s *LogStore) InsertIgnore(ctx context.Context, logs []*domain.LogRecord) (int, error) {
	if len(logs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO logs (
			chain_id, block_number, block_hash, tx_hash, log_index, address, name, args
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain_id, block_number, tx_hash, log_index) DO NOTHING
	`

	inserted := 0
	for _, l := range logs {
		if l == nil || l.TxHash == "" || l.Name == "" {
			return 0, storage.ErrInvalidInput
		}
		args, err := json.Marshal(l.Args)
		if err != nil {
			return 0, fmt.Errorf("marshal log args: %w", err)
		}
		tag, err := tx.Exec(ctx, query,
			l.ChainID,
			int64(l.BlockNumber),
			l.BlockHash,
			l.TxHash,
			int32(l.LogIndex),
			l.Address,
			l.Name,
			args,
		)
		if err != nil {
			return 0, fmt.Errorf("insert log: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// GetAfter returns logs strictly after pos, ascending.
func (s *LogStore) GetAfter(ctx context.Context, chainID int64, names []string, pos domain.Position, maxBlock uint64, limit int) ([]*domain.LogRecord, error) {
	query := `
		SELECT chain_id, block_number, block_hash, tx_hash, log_index, address, name, args
		FROM logs
		WHERE chain_id = $1 AND name = ANY($2)
		  AND (block_number, log_index) > ($3, $4)
		  AND block_number <= $5
		ORDER BY block_number ASC, log_index ASC
		LIMIT $6
	`

	rows, err := s.pool.Query(ctx, query, chainID, names, int64(pos.BlockNumber), pos.LogIndex, int64(maxBlock), limit)
	if err != nil {
		return nil, fmt.Errorf("get logs after: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

// GetBefore returns logs strictly before pos, descending.
func (s *LogStore) GetBefore(ctx context.Context, chainID int64, names []string, pos domain.Position, minBlock uint64, limit int) ([]*domain.LogRecord, error) {
	query := `
		SELECT chain_id, block_number, block_hash, tx_hash, log_index, address, name, args
		FROM logs
		WHERE chain_id = $1 AND name = ANY($2)
		  AND (block_number, log_index) < ($3, $4)
		  AND block_number >= $5
		ORDER BY block_number DESC, log_index DESC
		LIMIT $6
	`

	rows, err := s.pool.Query(ctx, query, chainID, names, int64(pos.BlockNumber), pos.LogIndex, int64(minBlock), limit)
	if err != nil {
		return nil, fmt.Errorf("get logs before: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

func scanLogs(rows pgx.Rows) ([]*domain.LogRecord, error) {
	var logs []*domain.LogRecord

	for rows.Next() {
		var (
			l           domain.LogRecord
			blockNumber int64
			logIndex    int32
			args        []byte
		)
		if err := rows.Scan(
			&l.ChainID,
			&blockNumber,
			&l.BlockHash,
			&l.TxHash,
			&logIndex,
			&l.Address,
			&l.Name,
			&args,
		); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		if err := json.Unmarshal(args, &l.Args); err != nil {
			return nil, fmt.Errorf("decode log args: %w", err)
		}
		l.BlockNumber = uint64(blockNumber)
		l.LogIndex = uint(logIndex)
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows: %w", err)
	}
	return logs, nil
}
