package memory

import (
	"context"
	"sort"
	"sync"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// CandleArchive is an in-memory implementation of storage.CandleArchive.
type CandleArchive struct {
	mu   sync.RWMutex
	data map[domain.SeriesKey]map[int64]domain.Candle
}

// NewCandleArchive creates a new in-memory candle archive.
func NewCandleArchive() *CandleArchive {
	return &CandleArchive{data: make(map[domain.SeriesKey]map[int64]domain.Candle)}
}

// Write upserts candles by (key, t).
func (a *CandleArchive) Write(_ context.Context, key domain.SeriesKey, candles []domain.Candle) error {
	if key.Token == "" || !key.Period.IsValid() || !key.Source.IsValid() {
		return storage.ErrInvalidInput
	}
	if len(candles) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	series, ok := a.data[key]
	if !ok {
		series = make(map[int64]domain.Candle)
		a.data[key] = series
	}
	for _, c := range candles {
		series[c.T] = c
	}
	return nil
}

// Load returns candles with t >= since, ascending.
func (a *CandleArchive) Load(_ context.Context, key domain.SeriesKey, since int64) ([]domain.Candle, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []domain.Candle
	for t, c := range a.data[key] {
		if t >= since {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].T < result[j].T })
	return result, nil
}

var _ storage.CandleArchive = (*CandleArchive)(nil)
