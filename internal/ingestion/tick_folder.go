package ingestion

import (
	"context"

	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
	"dex-analytics/internal/series"
	"dex-analytics/internal/upstream"
)

// TickFolder applies streamed fast prices to the open candle of every fast series.
type TickFolder struct {
	store    *series.Store
	periods  []domain.Period
	notifier Notifier
	logger   *zap.Logger
}

// NewTickFolder creates a folder over periods. notifier may be nil.
func NewTickFolder(store *series.Store, periods []domain.Period, notifier Notifier, logger *zap.Logger) *TickFolder {
	return &TickFolder{store: store, periods: periods, notifier: notifier, logger: logger.Named("ticks")}
}

// Fold applies one tick and returns how many series changed.
func (f *TickFolder) Fold(ctx context.Context, tick upstream.Tick) int {
	changed := 0
	for _, p := range f.periods {
		key := domain.SeriesKey{ChainID: tick.ChainID, Token: tick.Token, Period: p, Source: domain.SourceFast}
		if !f.store.Fold(key, tick.T, tick.Price) {
			continue
		}
		changed++
		if f.notifier == nil {
			continue
		}
		if tail, ok := f.store.Tail(key); ok {
			if err := f.notifier.Publish(ctx, key, tail); err != nil {
				f.logger.Debug("publish failed", zap.Stringer("key", key), zap.Error(err))
			}
		}
	}
	if changed > 0 {
		observability.RecordTickFolded()
	}
	return changed
}

// Run folds ticks until ctx is done or ticks is closed.
func (f *TickFolder) Run(ctx context.Context, ticks <-chan upstream.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			f.Fold(ctx, t)
		}
	}
}
