package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/idhash"
	"dex-analytics/internal/observability"
)

// RoundsRequest selects oracle rounds for one feed.
type RoundsRequest struct {
	Symbol string // feed symbol, e.g. ETH
	Token  string // token address the rounds are attributed to
	From   int64  // inclusive
	To     int64  // inclusive, 0 for now
	Desc   bool
	Limit  int
}

// OracleFeed reads price rounds from a REST market-data endpoint.
// Answers are fixed point with 8 decimals.
type OracleFeed struct {
	baseURL string
	client  *http.Client
	retry   RetryConfig
	logger  *zap.Logger
}

// NewOracleFeed creates a client for the rounds endpoint under baseURL.
func NewOracleFeed(baseURL string, opts ...Option) *OracleFeed {
	o := buildOptions(opts)
	return &OracleFeed{
		baseURL: baseURL,
		client:  o.client,
		retry:   o.retry,
		logger:  o.logger.Named("oracle"),
	}
}

type roundsResponse struct {
	Rounds []struct {
		ID        string `json:"id"`
		Answer    string `json:"answer"`
		UpdatedAt any    `json:"updatedAt"`
	} `json:"rounds"`
}

// FetchRounds returns one page of rounds as raw points.
func (f *OracleFeed) FetchRounds(ctx context.Context, req RoundsRequest) ([]domain.RawPricePoint, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("from", strconv.FormatInt(req.From, 10))
	if req.To > 0 {
		q.Set("to", strconv.FormatInt(req.To, 10))
	}
	q.Set("limit", strconv.Itoa(limit))
	if req.Desc {
		q.Set("order", "desc")
	} else {
		q.Set("order", "asc")
	}
	endpoint := f.baseURL + "/rounds?" + q.Encode()

	var resp roundsResponse
	err := WithBackoff(ctx, f.retry, f.logger, "oracle.rounds", func(ctx context.Context) error {
		resp = roundsResponse{}
		return doJSON(ctx, f.client, http.MethodGet, endpoint, nil, &resp, "oracle")
	})
	if err != nil {
		return nil, fmt.Errorf("fetch rounds %s: %w", req.Symbol, err)
	}

	points := make([]domain.RawPricePoint, 0, len(resp.Rounds))
	dropped := 0
	for _, r := range resp.Rounds {
		ts, err := parseTimestamp(r.UpdatedAt)
		answer, ok := domain.ParseScaled(r.Answer)
		if err != nil || !ok {
			dropped++
			f.logger.Warn("dropping malformed round", zap.String("id", r.ID), zap.String("answer", r.Answer))
			continue
		}
		id := r.ID
		if id == "" {
			id = idhash.ComputePricePointID(req.Token, domain.PeriodRaw, domain.SourceChainlink, ts)
		}
		p := domain.RawPricePoint{
			ID:        id,
			Token:     domain.NormalizeAddress(req.Token),
			Period:    domain.PeriodRaw,
			Timestamp: ts,
			Close:     answer,
			Scale:     domain.SourceChainlink.Scale(),
		}
		if err := p.Validate(); err != nil {
			dropped++
			f.logger.Warn("dropping malformed round", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		points = append(points, p)
	}
	if dropped > 0 {
		observability.RecordDropped("oracle", dropped)
	}
	return points, nil
}
