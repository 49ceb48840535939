package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
	"dex-analytics/internal/series"
	"dex-analytics/internal/storage"
)

// Notifier is told about every revised series tail.
type Notifier interface {
	Publish(ctx context.Context, key domain.SeriesKey, tail domain.Candle) error
}

// LoaderStatus is a monitoring view of one load loop.
type LoaderStatus struct {
	Name         string    `json:"name"`
	LastRun      time.Time `json:"lastRun"`
	Failures     int       `json:"consecutiveFailures"`
	Completed    bool      `json:"completed"`
	LastError    string    `json:"lastError,omitempty"`
	SeriesLoaded int       `json:"seriesLoaded"`
}

// PriceLoaderOptions configures a PriceLoader.
type PriceLoaderOptions struct {
	Chain          *domain.Chain
	Period         domain.Period
	Source         domain.Source
	Fetcher        PriceFetcher
	Store          *series.Store
	Archive        storage.CandleArchive // optional
	Notifier       Notifier              // optional
	Status         *xsync.Map[string, LoaderStatus]
	NewInterval    time.Duration
	OldInterval    time.Duration
	FailureBackoff time.Duration
	MaxFailures    int
	SeenWindow     int
	SeenCap        int
	Lookback       time.Duration // how far back a cold series starts
	Logger         *zap.Logger
}

// PriceLoader keeps the series of one (chain, period, source) current.
// LoadNew walks forward from the tail, LoadOld walks backward from the head until the
// store's start guard trips. Each runs as its own loop and is the only writer of its direction.
type PriceLoader struct {
	opts  PriceLoaderOptions
	feeds []*series.Feed
	now   func() time.Time
	name  string

	logger *zap.Logger
}

// NewPriceLoader creates a loader with one feed per chain token.
func NewPriceLoader(opts PriceLoaderOptions) *PriceLoader {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Status == nil {
		opts.Status = xsync.NewMap[string, LoaderStatus]()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}

	name := fmt.Sprintf("prices:%d:%s:%s", opts.Chain.ID, opts.Source, opts.Period)
	l := &PriceLoader{
		opts:   opts,
		now:    time.Now,
		name:   name,
		logger: opts.Logger.Named("prices").With(zap.String("loader", name)),
	}
	window := series.SeenWindow(opts.Period, opts.SeenWindow)
	for _, t := range opts.Chain.Tokens {
		key := domain.SeriesKey{ChainID: opts.Chain.ID, Token: t.Address, Period: opts.Period, Source: opts.Source}
		l.feeds = append(l.feeds, series.NewFeed(opts.Store, key, window, opts.SeenCap, opts.Logger))
	}
	return l
}

// Name identifies the loader.
func (l *PriceLoader) Name() string {
	return l.name
}

func (l *PriceLoader) token(key domain.SeriesKey) domain.Token {
	t, _ := l.opts.Chain.TokenByAddress(key.Token)
	return t
}

// Warm fills empty series from the archive.
func (l *PriceLoader) Warm(ctx context.Context, periods int) error {
	if l.opts.Archive == nil {
		return nil
	}
	span := l.opts.Period.Seconds()
	if span == 0 {
		span = 60
	}
	since := l.now().Unix() - span*int64(periods)
	for _, f := range l.feeds {
		candles, err := l.opts.Archive.Load(ctx, f.Key(), since)
		if err != nil {
			return fmt.Errorf("warm %s: %w", f.Key(), err)
		}
		if n := l.opts.Store.Warm(f.Key(), candles); n > 0 {
			l.logger.Info("warmed series from archive", zap.Stringer("key", f.Key()), zap.Int("candles", n))
		}
	}
	return nil
}

// LoadNew fetches records at or after each confirmed tail and merges them.
// The confirmed tail is re-fetched so its final upstream revision replaces the stored one,
// even after a streamed tick has opened a newer candle.
func (l *PriceLoader) LoadNew(ctx context.Context) error {
	var errs []error
	for _, f := range l.feeds {
		key := f.Key()
		since := l.now().Add(-l.opts.Lookback).Unix()
		if t, ok := l.opts.Store.ConfirmedTail(key); ok {
			since = t
		}
		points, err := l.opts.Fetcher.FetchNewer(ctx, l.token(key), l.opts.Period, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("load new %s: %w", key, err))
			continue
		}
		res, err := f.Append(points)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Appended+res.Replaced > 0 {
			l.persist(ctx, key, points)
			if tail, ok := l.opts.Store.Tail(key); ok && l.opts.Notifier != nil {
				if err := l.opts.Notifier.Publish(ctx, key, tail); err != nil {
					l.logger.Warn("publish failed", zap.Stringer("key", key), zap.Error(err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// LoadOld fetches one round older than each head. It reports done once every series
// has reached the chain start or the upstream has nothing older than the head.
// A page whose older records were all dropped is not completion.
func (l *PriceLoader) LoadOld(ctx context.Context, completed map[domain.SeriesKey]bool) (bool, error) {
	var errs []error
	for _, f := range l.feeds {
		key := f.Key()
		if completed[key] {
			continue
		}
		head, ok := l.opts.Store.Head(key)
		if !ok {
			// nothing to walk back from until LoadNew fills the series
			continue
		}
		points, err := l.opts.Fetcher.FetchOlder(ctx, l.token(key), l.opts.Period, head.T)
		if err != nil {
			errs = append(errs, fmt.Errorf("load old %s: %w", key, err))
			continue
		}
		res, err := f.Prepend(points)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Appended > 0 {
			l.persist(ctx, key, points)
		}
		if res.GuardTripped || !hasOlder(points, head.T) {
			completed[key] = true
			l.logger.Info("backfill complete",
				zap.Stringer("key", key),
				zap.Bool("guard", res.GuardTripped),
				zap.Int("len", l.opts.Store.Len(key)))
		}
	}
	return len(completed) == len(l.feeds), errors.Join(errs...)
}

func hasOlder(points []domain.RawPricePoint, t int64) bool {
	for i := range points {
		if points[i].Timestamp < t {
			return true
		}
	}
	return false
}

// persist writes the stored candles covering points to the archive.
func (l *PriceLoader) persist(ctx context.Context, key domain.SeriesKey, points []domain.RawPricePoint) {
	if l.opts.Archive == nil || len(points) == 0 {
		return
	}
	lo, hi := points[0].Candle().T, points[0].Candle().T
	for _, p := range points[1:] {
		t := p.Candle().T
		lo, hi = min(lo, t), max(hi, t)
	}
	candles := l.opts.Store.GetRange(key, lo, hi, false)
	if err := l.opts.Archive.Write(ctx, key, candles); err != nil {
		l.logger.Warn("archive write failed", zap.Stringer("key", key), zap.Error(err))
	}
}

// RunNew loops LoadNew until ctx is done.
func (l *PriceLoader) RunNew(ctx context.Context) error {
	return l.loop(ctx, "new", l.opts.NewInterval, func(ctx context.Context) (bool, error) {
		return false, l.LoadNew(ctx)
	})
}

// RunOld loops LoadOld until every series is backfilled or ctx is done.
func (l *PriceLoader) RunOld(ctx context.Context) error {
	completed := make(map[domain.SeriesKey]bool)
	return l.loop(ctx, "old", l.opts.OldInterval, func(ctx context.Context) (bool, error) {
		return l.LoadOld(ctx, completed)
	})
}

// safeStep turns a panic in one iteration into an error so the loop keeps running.
func (l *PriceLoader) safeStep(ctx context.Context, dir string, step func(context.Context) (bool, error)) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("price load panicked",
				zap.String("direction", dir),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			done, err = false, fmt.Errorf("%s %s panicked: %v", l.name, dir, r)
		}
	}()
	return step(ctx)
}

// loop sleeps interval between iterations, or FailureBackoff after MaxFailures consecutive failures.
func (l *PriceLoader) loop(ctx context.Context, dir string, interval time.Duration, step func(context.Context) (bool, error)) error {
	name := l.name + ":" + dir
	failures := 0
	for {
		done, err := l.safeStep(ctx, dir, step)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		st := LoaderStatus{Name: name, LastRun: l.now(), Completed: done, SeriesLoaded: len(l.feeds)}
		wait := interval
		if err != nil {
			failures++
			st.LastError = err.Error()
			l.logger.Warn("price load failed", zap.String("direction", dir), zap.Int("failures", failures), zap.Error(err))
			if failures >= l.opts.MaxFailures {
				wait = l.opts.FailureBackoff
				failures = 0
				observability.RecordLoaderBackoff(name)
				l.logger.Warn("backing off", zap.String("direction", dir), zap.Duration("wait", wait))
			}
		} else {
			failures = 0
		}
		st.Failures = failures
		l.opts.Status.Store(name, st)

		if done {
			l.logger.Info("loader finished", zap.String("direction", dir))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
