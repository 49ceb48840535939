package ingestion

import (
	"context"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/upstream"
)

// PriceFetcher pages price records for one token of one chain.
type PriceFetcher interface {
	// FetchNewer returns records with timestamp >= since, oldest first.
	FetchNewer(ctx context.Context, token domain.Token, period domain.Period, since int64) ([]domain.RawPricePoint, error)
	// FetchOlder returns up to one round of records with timestamp <= before, newest first.
	FetchOlder(ctx context.Context, token domain.Token, period domain.Period, before int64) ([]domain.RawPricePoint, error)
}

// GraphFetcher reads fast-price candles from a graph endpoint.
type GraphFetcher struct {
	Source *upstream.PriceCandleSource
	Round  int // records per backward round
}

// FetchNewer implements PriceFetcher.
func (f GraphFetcher) FetchNewer(ctx context.Context, token domain.Token, period domain.Period, since int64) ([]domain.RawPricePoint, error) {
	return f.Source.FetchAll(ctx, upstream.PageRequest{Token: token.Address, Period: period, From: since}, upstream.StopCondition{})
}

// FetchOlder implements PriceFetcher.
func (f GraphFetcher) FetchOlder(ctx context.Context, token domain.Token, period domain.Period, before int64) ([]domain.RawPricePoint, error) {
	return f.Source.FetchAll(ctx,
		upstream.PageRequest{Token: token.Address, Period: period, To: before, Desc: true},
		upstream.StopCondition{MaxRecords: f.Round})
}

// OracleFetcher reads oracle rounds from the REST feed.
type OracleFetcher struct {
	Feed  *upstream.OracleFeed
	Limit int
}

// FetchNewer implements PriceFetcher.
func (f OracleFetcher) FetchNewer(ctx context.Context, token domain.Token, _ domain.Period, since int64) ([]domain.RawPricePoint, error) {
	return f.Feed.FetchRounds(ctx, upstream.RoundsRequest{Symbol: token.Symbol, Token: token.Address, From: since, Limit: f.Limit})
}

// FetchOlder implements PriceFetcher.
func (f OracleFetcher) FetchOlder(ctx context.Context, token domain.Token, _ domain.Period, before int64) ([]domain.RawPricePoint, error) {
	return f.Feed.FetchRounds(ctx, upstream.RoundsRequest{Symbol: token.Symbol, Token: token.Address, To: before, Desc: true, Limit: f.Limit})
}
