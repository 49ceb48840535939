package series

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
)

// ErrOrderViolation is returned in strict mode when a merge would break ordering.
var ErrOrderViolation = errors.New("series order violation")

// MergeResult summarizes one merge.
type MergeResult struct {
	Appended int
	Replaced int
	Skipped  int
	Seen     int // filtered by a Feed before reaching the store
	// GuardTripped is set when any point fell before the chain start.
	// Backfill loops treat it as completion.
	GuardTripped bool
}

// Options configures a Store.
type Options struct {
	// Strict fails merges that would break ordering instead of skipping the offending points.
	Strict bool
	// StartTimestamp returns the earliest accepted timestamp for a chain.
	StartTimestamp func(chainID int64) int64
}

// OptionsFromRegistry builds Options whose guard reads chain start timestamps from reg.
func OptionsFromRegistry(reg *domain.Registry, strict bool) Options {
	return Options{
		Strict: strict,
		StartTimestamp: func(chainID int64) int64 {
			if c, ok := reg.Chain(chainID); ok {
				return c.StartTimestamp
			}
			return 0
		},
	}
}

type series struct {
	mu        sync.RWMutex
	candles   []domain.Candle
	updatedAt time.Time
	// confirmed is the newest T that came from upstream or the archive.
	// Candles after it were opened by Fold and are provisional.
	confirmed    int64
	hasConfirmed bool
}

func (sr *series) confirm(t int64) {
	if !sr.hasConfirmed || t > sr.confirmed {
		sr.confirmed, sr.hasConfirmed = t, true
	}
}

// Store holds one sorted, duplicate-free candle series per key.
// Each key has a single writer; readers copy under the read lock.
type Store struct {
	series *xsync.Map[domain.SeriesKey, *series]
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

// NewStore creates an empty store.
func NewStore(opts Options, logger *zap.Logger) *Store {
	if opts.StartTimestamp == nil {
		opts.StartTimestamp = func(int64) int64 { return 0 }
	}
	return &Store{
		series: xsync.NewMap[domain.SeriesKey, *series](),
		opts:   opts,
		now:    time.Now,
		logger: logger.Named("series"),
	}
}

func (s *Store) get(key domain.SeriesKey) (*series, bool) {
	return s.series.Load(key)
}

func (s *Store) getOrCreate(key domain.SeriesKey) *series {
	if sr, ok := s.series.Load(key); ok {
		return sr
	}
	sr, _ := s.series.Compute(key, func(old *series, loaded bool) (*series, xsync.ComputeOp) {
		if loaded {
			return old, xsync.UpdateOp
		}
		return &series{}, xsync.UpdateOp
	})
	return sr
}

// normalize sorts points by T. On equal T the later point in the input wins.
func normalize(points []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].T < out[j].T })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].T == out[i].T {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// guard drops points before the chain start.
func (s *Store) guard(key domain.SeriesKey, points []domain.Candle) ([]domain.Candle, bool) {
	start := s.opts.StartTimestamp(key.ChainID)
	if start <= 0 {
		return points, false
	}
	// points are sorted, so the rejected ones form a prefix
	i := sort.Search(len(points), func(i int) bool { return points[i].T >= start })
	return points[i:], i > 0
}

// MergeAppend merges points that are expected at or after the confirmed tail.
// A point at an existing T replaces that candle, so upstream revisions overwrite both the
// confirmed tail and any provisional candles Fold opened after it.
func (s *Store) MergeAppend(key domain.SeriesKey, points []domain.Candle) (MergeResult, error) {
	var res MergeResult
	pts := normalize(points)
	pts, res.GuardTripped = s.guard(key, pts)
	if len(pts) == 0 {
		return res, nil
	}

	sr := s.getOrCreate(key)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	start := len(sr.candles)
	if start > 0 {
		boundary := sr.candles[start-1].T
		if sr.hasConfirmed {
			boundary = sr.confirmed
		}
		older := sort.Search(len(pts), func(i int) bool { return pts[i].T >= boundary })
		if older > 0 {
			if s.opts.Strict {
				return res, fmt.Errorf("%w: append %s: %d points before tail %d (first %d)",
					ErrOrderViolation, key, older, boundary, pts[0].T)
			}
			s.logger.Warn("skipping points older than tail",
				zap.Stringer("key", key),
				zap.Int("count", older),
				zap.Int64("tail", boundary))
			res.Skipped += older
			pts = pts[older:]
		}
		start = sort.Search(len(sr.candles), func(i int) bool { return sr.candles[i].T >= boundary })
	}

	if len(pts) > 0 {
		merged := make([]domain.Candle, 0, len(sr.candles)-start+len(pts))
		i, j := start, 0
		for i < len(sr.candles) || j < len(pts) {
			switch {
			case j == len(pts) || (i < len(sr.candles) && sr.candles[i].T < pts[j].T):
				merged = append(merged, sr.candles[i])
				i++
			case i == len(sr.candles) || pts[j].T < sr.candles[i].T:
				merged = append(merged, pts[j])
				res.Appended++
				j++
			default:
				if pts[j] != sr.candles[i] {
					s.logger.Debug("revised candle",
						zap.Stringer("key", key),
						zap.Int64("t", pts[j].T),
						zap.Float64("close_delta", pts[j].C-sr.candles[i].C))
				}
				merged = append(merged, pts[j])
				res.Replaced++
				i++
				j++
			}
		}
		sr.candles = append(sr.candles[:start], merged...)
		sr.confirm(pts[len(pts)-1].T)
		sr.updatedAt = s.now()
	}

	observability.RecordMerge("append", res.Appended, res.Replaced, res.Skipped)
	observability.UpdateSeriesLength(fmt.Sprint(key.ChainID), key.Period.String(), key.Source.String(), len(sr.candles))
	return res, nil
}

// MergePrepend merges points that are expected before the head.
// A point at the head's T is a duplicate and skipped.
func (s *Store) MergePrepend(key domain.SeriesKey, points []domain.Candle) (MergeResult, error) {
	var res MergeResult
	pts := normalize(points)
	pts, res.GuardTripped = s.guard(key, pts)
	if len(pts) == 0 {
		return res, nil
	}

	sr := s.getOrCreate(key)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if len(sr.candles) > 0 {
		head := sr.candles[0]
		keep := sort.Search(len(pts), func(i int) bool { return pts[i].T >= head.T })
		if keep < len(pts) {
			newer := len(pts) - keep
			if pts[keep].T == head.T {
				newer--
			}
			if newer > 0 && s.opts.Strict {
				return res, fmt.Errorf("%w: prepend %s: %d points after head %d",
					ErrOrderViolation, key, newer, head.T)
			}
			if newer > 0 {
				s.logger.Warn("skipping points newer than head",
					zap.Stringer("key", key),
					zap.Int("count", newer),
					zap.Int64("head", head.T))
			}
			res.Skipped += len(pts) - keep
			pts = pts[:keep]
		}
	}

	if len(pts) > 0 {
		if len(sr.candles) == 0 {
			sr.confirm(pts[len(pts)-1].T)
		}
		merged := make([]domain.Candle, 0, len(pts)+len(sr.candles))
		merged = append(merged, pts...)
		sr.candles = append(merged, sr.candles...)
		sr.updatedAt = s.now()
	}
	res.Appended = len(pts)

	observability.RecordMerge("prepend", res.Appended, 0, res.Skipped)
	observability.UpdateSeriesLength(fmt.Sprint(key.ChainID), key.Period.String(), key.Source.String(), len(sr.candles))
	return res, nil
}

// Warm loads archived candles into an empty series. It returns the number loaded.
func (s *Store) Warm(key domain.SeriesKey, candles []domain.Candle) int {
	pts := normalize(candles)
	pts, _ = s.guard(key, pts)
	if len(pts) == 0 {
		return 0
	}
	sr := s.getOrCreate(key)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.candles) > 0 {
		return 0
	}
	sr.candles = pts
	sr.confirm(pts[len(pts)-1].T)
	sr.updatedAt = s.now()
	return len(pts)
}

// Fold applies one price observation to the open candle of a period series.
// It reports whether the series changed. Observations before the tail are ignored.
func (s *Store) Fold(key domain.SeriesKey, t int64, price float64) bool {
	sr, ok := s.get(key)
	if !ok {
		return false
	}
	bucket := key.Period.Align(t)

	sr.mu.Lock()
	defer sr.mu.Unlock()
	n := len(sr.candles)
	if n == 0 {
		return false
	}
	tail := sr.candles[n-1]
	switch {
	case bucket == tail.T:
		tail.H = max(tail.H, price)
		tail.L = min(tail.L, price)
		tail.C = price
		sr.candles[n-1] = tail
	case bucket > tail.T:
		sr.candles = append(sr.candles, domain.Candle{
			T: bucket,
			O: tail.C,
			H: max(tail.C, price),
			L: min(tail.C, price),
			C: price,
		})
	default:
		return false
	}
	sr.updatedAt = s.now()
	return true
}

// Head returns the oldest candle.
func (s *Store) Head(key domain.SeriesKey) (domain.Candle, bool) {
	sr, ok := s.get(key)
	if !ok {
		return domain.Candle{}, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if len(sr.candles) == 0 {
		return domain.Candle{}, false
	}
	return sr.candles[0], true
}

// Tail returns the newest candle.
func (s *Store) Tail(key domain.SeriesKey) (domain.Candle, bool) {
	sr, ok := s.get(key)
	if !ok {
		return domain.Candle{}, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if len(sr.candles) == 0 {
		return domain.Candle{}, false
	}
	return sr.candles[len(sr.candles)-1], true
}

// ConfirmedTail returns the T of the newest candle that came from upstream or the archive.
// Candles Fold opened after it are not counted.
func (s *Store) ConfirmedTail(key domain.SeriesKey) (int64, bool) {
	sr, ok := s.get(key)
	if !ok {
		return 0, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return sr.confirmed, sr.hasConfirmed && len(sr.candles) > 0
}

// Len returns the series length.
func (s *Store) Len(key domain.SeriesKey) int {
	sr, ok := s.get(key)
	if !ok {
		return 0
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.candles)
}

// UpdatedAt returns when the series last changed.
func (s *Store) UpdatedAt(key domain.SeriesKey) time.Time {
	sr, ok := s.get(key)
	if !ok {
		return time.Time{}
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return sr.updatedAt
}

// Snapshot copies the whole series.
func (s *Store) Snapshot(key domain.SeriesKey) []domain.Candle {
	sr, ok := s.get(key)
	if !ok {
		return nil
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]domain.Candle, len(sr.candles))
	copy(out, sr.candles)
	return out
}

// Keys lists every series key, sorted by their string form.
func (s *Store) Keys() []domain.SeriesKey {
	var keys []domain.SeriesKey
	s.series.Range(func(k domain.SeriesKey, _ *series) bool {
		keys = append(keys, k)
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
