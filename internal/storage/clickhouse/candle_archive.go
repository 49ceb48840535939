package clickhouse

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// CandleArchive implements storage.CandleArchive on a ReplacingMergeTree table.
// Rows for the same (key, t) collapse to the highest revision; reads use FINAL.
type CandleArchive struct {
	conn     *Conn
	revision atomic.Uint64
}

// NewCandleArchive creates a new CandleArchive.
func NewCandleArchive(conn *Conn) *CandleArchive {
	a := &CandleArchive{conn: conn}
	a.revision.Store(uint64(time.Now().UnixNano()))
	return a
}

// Compile-time interface check.
var _ storage.CandleArchive = (*CandleArchive)(nil)

// Write appends candles with a fresh revision so later writes win on merge.
func (a *CandleArchive) Write(ctx context.Context, key domain.SeriesKey, candles []domain.Candle) error {
	if key.Token == "" || !key.Period.IsValid() || !key.Source.IsValid() {
		return storage.ErrInvalidInput
	}
	if len(candles) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			chain_id, token, period, source, t, o, h, l, c, revision
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	rev := a.revision.Add(1)
	for _, c := range candles {
		err = batch.Append(
			key.ChainID, key.Token, string(key.Period), string(key.Source),
			c.T, c.O, c.H, c.L, c.C, rev,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Load returns the archived series with t >= since, ordered by t ASC.
func (a *CandleArchive) Load(ctx context.Context, key domain.SeriesKey, since int64) ([]domain.Candle, error) {
	query := `
		SELECT t, o, h, l, c
		FROM candles FINAL
		WHERE chain_id = ? AND token = ? AND period = ? AND source = ? AND t >= ?
		ORDER BY t ASC
	`

	rows, err := a.conn.Query(ctx, query, key.ChainID, key.Token, string(key.Period), string(key.Source), since)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.T, &c.O, &c.H, &c.L, &c.C); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}
