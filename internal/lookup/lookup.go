// Package lookup finds the value of an ordered series at a point in time.
package lookup

import (
	"errors"
	"sort"

	"dex-analytics/internal/domain"
)

// Errors returned by lookup functions.
var (
	ErrNoPriceData  = errors.New("no price data available")
	ErrNoLedgerData = errors.New("no ledger data available")
)

// PriceAt returns the close of the candle at or before target.
// If no candle is before target, the first candle is used.
// candles must be ordered by T ascending.
func PriceAt(target int64, candles []domain.Candle) (domain.Candle, error) {
	if len(candles) == 0 {
		return domain.Candle{}, ErrNoPriceData
	}
	i := sort.Search(len(candles), func(i int) bool { return candles[i].T > target })
	if i == 0 {
		return candles[0], nil
	}
	return candles[i-1], nil
}

// ValueAt returns the last ledger row at or before target.
// Returns (nil, nil) when every row is after target, the ledger had not started then.
// rows must be ordered by position ascending, which also orders them by timestamp.
func ValueAt(target int64, rows []*domain.DerivedStateRow) (*domain.DerivedStateRow, error) {
	if len(rows) == 0 {
		return nil, ErrNoLedgerData
	}
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Timestamp > target })
	if i == 0 {
		return nil, nil
	}
	return rows[i-1], nil
}
