package upstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/idhash"
	"dex-analytics/internal/observability"
)

// DefaultPageSize is the fixed upstream page size.
const DefaultPageSize = 1000

// PageRequest selects one page of price candles.
type PageRequest struct {
	Token  string
	Period domain.Period
	From   int64 // inclusive, 0 for unbounded
	To     int64 // inclusive, 0 for unbounded
	Desc   bool  // newest first
	Skip   int
	First  int
}

// StopCondition ends a multi-page fetch early.
type StopCondition struct {
	MaxRecords int   // 0 disables
	Before     int64 // stop once a page reaches a timestamp below this (descending walks)
	After      int64 // stop once a page reaches a timestamp above this (ascending walks)
}

func (s StopCondition) reached(records []domain.RawPricePoint, desc bool) bool {
	if s.MaxRecords > 0 && len(records) >= s.MaxRecords {
		return true
	}
	if len(records) == 0 {
		return false
	}
	last := records[len(records)-1].Timestamp
	if desc && s.Before > 0 && last < s.Before {
		return true
	}
	if !desc && s.After > 0 && last > s.After {
		return true
	}
	return false
}

// PriceCandleSource pages through a graph endpoint's priceCandles entity.
type PriceCandleSource struct {
	graph    *GraphClient
	pool     pond.Pool
	pageSize int
	shards   int
	logger   *zap.Logger
}

// NewPriceCandleSource creates a paged candle source. shards pages are fetched in parallel per round.
func NewPriceCandleSource(graph *GraphClient, pageSize, shards int, logger *zap.Logger) *PriceCandleSource {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if shards <= 0 {
		shards = 1
	}
	return &PriceCandleSource{
		graph:    graph,
		pool:     pond.NewPool(shards, pond.WithQueueSize(shards*4)),
		pageSize: pageSize,
		shards:   shards,
		logger:   logger.Named("price_candles"),
	}
}

// Close stops the worker pool.
func (s *PriceCandleSource) Close() {
	s.pool.StopAndWait()
}

const priceCandlesQuery = `query priceCandles($first: Int!, $skip: Int!, $token: String!, $period: String!, $from: Int!, $to: Int!, $dir: String!) {
  priceCandles(
    first: $first
    skip: $skip
    orderBy: timestamp
    orderDirection: $dir
    where: {token: $token, period: $period, timestamp_gte: $from, timestamp_lte: $to}
  ) {
    id
    token
    period
    timestamp
    open
    high
    low
    close
  }
}`

type rawCandle struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	Period    string `json:"period"`
	Timestamp any    `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
}

// FetchPage fetches one page. Malformed records are dropped with a warning.
func (s *PriceCandleSource) FetchPage(ctx context.Context, req PageRequest) ([]domain.RawPricePoint, error) {
	points, _, err := s.fetchPage(ctx, req)
	return points, err
}

// fetchPage also reports whether the upstream returned a short page.
// Short pages are judged on the raw count so dropped records do not end a walk early.
func (s *PriceCandleSource) fetchPage(ctx context.Context, req PageRequest) ([]domain.RawPricePoint, bool, error) {
	first := req.First
	if first <= 0 {
		first = s.pageSize
	}
	to := req.To
	if to <= 0 {
		to = 1<<31 - 1
	}
	dir := "asc"
	if req.Desc {
		dir = "desc"
	}

	var out struct {
		PriceCandles []rawCandle `json:"priceCandles"`
	}
	err := s.graph.Query(ctx, priceCandlesQuery, map[string]any{
		"first":  first,
		"skip":   req.Skip,
		"token":  domain.NormalizeAddress(req.Token),
		"period": string(req.Period),
		"from":   req.From,
		"to":     to,
		"dir":    dir,
	}, &out)
	if err != nil {
		return nil, false, fmt.Errorf("fetch price candles %s %s skip=%d: %w", req.Token, req.Period, req.Skip, err)
	}

	points := make([]domain.RawPricePoint, 0, len(out.PriceCandles))
	dropped := 0
	for _, rc := range out.PriceCandles {
		p, err := rc.toPoint()
		if err != nil {
			dropped++
			s.logger.Warn("dropping malformed price candle", zap.String("id", rc.ID), zap.Error(err))
			continue
		}
		points = append(points, p)
	}
	if dropped > 0 {
		observability.RecordDropped("graph", dropped)
	}
	return points, len(out.PriceCandles) < first, nil
}

func (rc rawCandle) toPoint() (domain.RawPricePoint, error) {
	ts, err := parseTimestamp(rc.Timestamp)
	if err != nil {
		return domain.RawPricePoint{}, err
	}
	p := domain.RawPricePoint{
		ID:        rc.ID,
		Token:     domain.NormalizeAddress(rc.Token),
		Period:    domain.Period(rc.Period),
		Timestamp: ts,
		Scale:     domain.SourceFast.Scale(),
	}
	var ok bool
	if p.Open, ok = domain.ParseScaled(rc.Open); !ok {
		return p, fmt.Errorf("%w: open %q", ErrMalformed, rc.Open)
	}
	if p.High, ok = domain.ParseScaled(rc.High); !ok {
		return p, fmt.Errorf("%w: high %q", ErrMalformed, rc.High)
	}
	if p.Low, ok = domain.ParseScaled(rc.Low); !ok {
		return p, fmt.Errorf("%w: low %q", ErrMalformed, rc.Low)
	}
	if p.Close, ok = domain.ParseScaled(rc.Close); !ok {
		return p, fmt.Errorf("%w: close %q", ErrMalformed, rc.Close)
	}
	if !p.Period.IsValid() || p.Period == domain.PeriodRaw {
		return p, fmt.Errorf("%w: period %q", ErrMalformed, rc.Period)
	}
	if p.ID == "" {
		p.ID = idhash.ComputePricePointID(p.Token, p.Period, domain.SourceFast, ts)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

func parseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: timestamp %q", ErrMalformed, t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: timestamp %v", ErrMalformed, v)
	}
}

// FetchAll walks pages in rounds of parallel shards, merging them in offset order.
// The walk ends at the first short page or when stop is satisfied.
func (s *PriceCandleSource) FetchAll(ctx context.Context, req PageRequest, stop StopCondition) ([]domain.RawPricePoint, error) {
	var all []domain.RawPricePoint
	skip := req.Skip

	for {
		pages := make([][]domain.RawPricePoint, s.shards)
		errs := make([]error, s.shards)
		shorts := make([]bool, s.shards)
		last := false

		group := s.pool.NewGroupContext(ctx)
		groupCtx := group.Context()
		for i := 0; i < s.shards; i++ {
			pageReq := req
			pageReq.Skip = skip + i*s.pageSize
			pageReq.First = s.pageSize
			group.Submit(func() {
				if err := groupCtx.Err(); err != nil {
					errs[i] = err
					return
				}
				pages[i], shorts[i], errs[i] = s.fetchPage(groupCtx, pageReq)
			})
		}
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			s.logger.Warn("parallel page fetch encountered error", zap.Error(err))
		}

		for i := 0; i < s.shards; i++ {
			if errs[i] != nil {
				return all, errs[i]
			}
			all = append(all, pages[i]...)
			if shorts[i] {
				last = true
				break
			}
		}

		if last || stop.reached(all, req.Desc) {
			return all, nil
		}
		skip += s.shards * s.pageSize
	}
}
