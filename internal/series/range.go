package series

import (
	"sort"

	"dex-analytics/internal/domain"
)

// GetRange returns the candles with from <= T <= to.
// With inbound set, the nearest candle before from and the nearest after to are included too.
// The result is a copy taken under the series read lock.
func (s *Store) GetRange(key domain.SeriesKey, from, to int64, inbound bool) []domain.Candle {
	if from > to {
		return nil
	}
	sr, ok := s.get(key)
	if !ok {
		return nil
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	c := sr.candles
	lo := sort.Search(len(c), func(i int) bool { return c[i].T >= from })
	hi := sort.Search(len(c), func(i int) bool { return c[i].T > to })
	if inbound {
		if lo > 0 {
			lo--
		}
		if hi < len(c) {
			hi++
		}
	}
	if lo >= hi {
		return nil
	}
	out := make([]domain.Candle, hi-lo)
	copy(out, c[lo:hi])
	return out
}
