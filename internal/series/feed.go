package series

import (
	"sync"

	"go.uber.org/zap"

	"dex-analytics/internal/domain"
)

// Feed converts upstream price records and merges them into one series.
// It owns a seen-set per direction so re-fetched pages are ingested once.
type Feed struct {
	store *Store
	key   domain.SeriesKey

	mu       sync.Mutex
	forward  *SeenSet
	backward *SeenSet
	logger   *zap.Logger
}

// SeenWindow converts a window in periods to seconds. Raw series count minutes.
func SeenWindow(p domain.Period, periods int) int64 {
	s := p.Seconds()
	if s == 0 {
		s = 60
	}
	return s * int64(periods)
}

// NewFeed creates a feed for key.
func NewFeed(store *Store, key domain.SeriesKey, window int64, limit int, logger *zap.Logger) *Feed {
	return &Feed{
		store:    store,
		key:      key,
		forward:  NewSeenSet(domain.DirectionForward, window, limit),
		backward: NewSeenSet(domain.DirectionBackward, window, limit),
		logger:   logger.Named("feed").With(zap.Stringer("key", key)),
	}
}

// Key returns the series key.
func (f *Feed) Key() domain.SeriesKey {
	return f.key
}

// Append merges newer records. Records already seen are dropped, except those at or after
// the confirmed tail, which may carry revisions of candles still open upstream.
func (f *Feed) Append(points []domain.RawPricePoint) (MergeResult, error) {
	confirmed, hasTail := f.store.ConfirmedTail(f.key)

	f.mu.Lock()
	defer f.mu.Unlock()
	kept, seen := f.filter(f.forward, points, func(c domain.Candle) bool {
		return hasTail && c.T >= confirmed
	})

	res, err := f.store.MergeAppend(f.key, candlesOf(kept))
	res.Seen = seen
	if err == nil {
		f.remember(f.forward, kept)
	}
	return res, err
}

// Prepend merges older records.
func (f *Feed) Prepend(points []domain.RawPricePoint) (MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept, seen := f.filter(f.backward, points, nil)

	res, err := f.store.MergePrepend(f.key, candlesOf(kept))
	res.Seen = seen
	if err == nil {
		f.remember(f.backward, kept)
	}
	return res, err
}

// filter drops malformed and already seen records. Ids are remembered only once the
// merge succeeds, so a failed merge is retried in full.
func (f *Feed) filter(set *SeenSet, points []domain.RawPricePoint, revise func(domain.Candle) bool) ([]domain.RawPricePoint, int) {
	out := make([]domain.RawPricePoint, 0, len(points))
	seen := 0
	for i := range points {
		p := points[i]
		if err := p.Validate(); err != nil {
			f.logger.Warn("dropping malformed price point", zap.Error(err))
			continue
		}
		if set.Has(p.ID) && (revise == nil || !revise(p.Candle())) {
			seen++
			continue
		}
		out = append(out, p)
	}
	return out, seen
}

func (f *Feed) remember(set *SeenSet, points []domain.RawPricePoint) {
	for i := range points {
		set.Add(points[i].ID, points[i].Candle().T)
	}
}

func candlesOf(points []domain.RawPricePoint) []domain.Candle {
	out := make([]domain.Candle, len(points))
	for i := range points {
		out[i] = points[i].Candle()
	}
	return out
}
