package api

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/lookup"
	"dex-analytics/internal/series"
)

// priceQuery is the parsed filter set shared by /candles and /chart.
type priceQuery struct {
	symbol string
	period domain.Period
	from   int64
	to     int64
	chain  int64
	source domain.Source
}

// target is one (chain, token, source) to try, in fallback order.
type target struct {
	chainID int64
	token   string
	source  domain.Source
}

func (s *Server) parsePriceQuery(r *http.Request, needPeriod bool) (priceQuery, error) {
	q := priceQuery{
		symbol: strings.ToUpper(mux.Vars(r)["symbol"]),
		from:   0,
		to:     s.now().Unix(),
		chain:  s.opts.DefaultChainID,
		source: s.opts.DefaultSource,
	}
	values := r.URL.Query()

	if v := values.Get("period"); v != "" || needPeriod {
		if v == "" {
			return q, badRequest("missing period")
		}
		p, err := domain.ParsePeriod(v)
		if err != nil {
			return q, badRequest("invalid period %q", v)
		}
		q.period = p
	}

	var err error
	if q.from, err = parseUnix(values.Get("from"), q.from); err != nil {
		return q, badRequest("invalid from: %v", err)
	}
	if q.to, err = parseUnix(values.Get("to"), q.to); err != nil {
		return q, badRequest("invalid to: %v", err)
	}
	if q.from > q.to {
		return q, badRequest("from is after to")
	}

	if v := values.Get("preferableChainId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, badRequest("invalid preferableChainId %q", v)
		}
		q.chain = id
	}
	if _, ok := s.opts.Registry.Chain(q.chain); !ok {
		return q, badRequest("unsupported chain %d", q.chain)
	}

	if v := values.Get("preferableSource"); v != "" {
		src, ok := domain.ParseSource(v)
		if !ok {
			return q, badRequest("invalid preferableSource %q", v)
		}
		q.source = src
	}
	return q, nil
}

func parseUnix(v string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// targets lists the series to try: preferred chain and source first, then the other
// source on that chain, then the remaining chains.
func (s *Server) targets(q priceQuery) ([]target, error) {
	chains := []int64{q.chain}
	for _, id := range s.opts.Registry.IDs() {
		if id != q.chain {
			chains = append(chains, id)
		}
	}

	var out []target
	for _, id := range chains {
		c, _ := s.opts.Registry.Chain(id)
		tok, ok := c.TokenBySymbol(q.symbol)
		if !ok {
			continue
		}
		for _, src := range []domain.Source{q.source, q.source.Other()} {
			out = append(out, target{chainID: id, token: tok.Address, source: src})
		}
	}
	if len(out) == 0 {
		return nil, badRequest("unknown symbol %q", q.symbol)
	}
	return out, nil
}

type candlesResponse struct {
	Prices    []domain.Candle `json:"prices"`
	Period    domain.Period   `json:"period"`
	UpdatedAt int64           `json:"updatedAt"`
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) error {
	q, err := s.parsePriceQuery(r, true)
	if err != nil {
		return err
	}
	targets, err := s.targets(q)
	if err != nil {
		return err
	}

	resp := candlesResponse{Prices: []domain.Candle{}, Period: q.period}
	for _, t := range targets {
		prices, key := s.candles(t, q)
		if len(prices) == 0 {
			continue
		}
		resp.Prices = prices
		if at := s.opts.Store.UpdatedAt(key); !at.IsZero() {
			resp.UpdatedAt = at.Unix()
		}
		break
	}
	return writeJSON(w, resp)
}

// candles answers q from one target. Fast series are stored per period. Oracle series
// hold raw rounds and are aggregated here, with one extra round before from so the first
// candle opens at the previous close.
func (s *Server) candles(t target, q priceQuery) ([]domain.Candle, domain.SeriesKey) {
	key := domain.SeriesKey{ChainID: t.chainID, Token: t.token, Period: q.period, Source: t.source}
	rq := series.RangeQuery{
		Key:        key,
		From:       q.from,
		To:         q.to,
		Preference: fmt.Sprintf("%d/%s", q.chain, q.source),
	}

	if t.source == domain.SourceFast {
		return s.opts.Cache.Get(rq, func() []domain.Candle {
			return s.opts.Store.GetRange(key, q.from, q.to, false)
		}), key
	}

	raw := domain.SeriesKey{ChainID: t.chainID, Token: t.token, Period: domain.PeriodRaw, Source: t.source}
	return s.opts.Cache.Get(rq, func() []domain.Candle {
		rounds := s.opts.Store.GetRange(raw, q.from, q.to, true)
		points := make([]domain.Point, 0, len(rounds))
		for _, c := range rounds {
			if c.T > q.to {
				break
			}
			points = append(points, c.Point())
		}
		first := q.period.Align(q.from)
		var out []domain.Candle
		for _, c := range s.opts.Aggregator.Aggregate(points, q.period.Seconds()) {
			if c.T >= first {
				out = append(out, c)
			}
		}
		return out
	}), raw
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) error {
	q, err := s.parsePriceQuery(r, false)
	if err != nil {
		return err
	}
	targets, err := s.targets(q)
	if err != nil {
		return err
	}

	points := []domain.Point{}
	for _, t := range targets {
		key := domain.SeriesKey{ChainID: t.chainID, Token: t.token, Period: domain.PeriodRaw, Source: t.source}
		if t.source == domain.SourceFast {
			// the fast feed has no raw series, its smallest candles stand in
			key.Period = domain.CandlePeriods[0]
		}
		found := s.opts.Store.GetRange(key, q.from, q.to, false)
		if len(found) == 0 {
			continue
		}
		for _, c := range found {
			points = append(points, c.Point())
		}
		break
	}
	return writeJSON(w, points)
}

type ledgerRow struct {
	T           int64  `json:"t"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    int64  `json:"logIndex"`
	Value       string `json:"value"`
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	typ := vars["type"]
	if s.opts.Ledger == nil || !slices.Contains(s.opts.LedgerTypes, typ) {
		return badRequest("unknown ledger type %q", typ)
	}

	values := r.URL.Query()
	chain := s.opts.DefaultChainID
	if v := values.Get("chainId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest("invalid chainId %q", v)
		}
		chain = id
	}
	if _, ok := s.opts.Registry.Chain(chain); !ok {
		return badRequest("unsupported chain %d", chain)
	}
	from, err := parseUnix(values.Get("from"), 0)
	if err != nil {
		return badRequest("invalid from: %v", err)
	}
	to, err := parseUnix(values.Get("to"), math.MaxInt64)
	if err != nil {
		return badRequest("invalid to: %v", err)
	}

	var at int64
	hasAt := values.Has("at")
	if hasAt {
		if at, err = strconv.ParseInt(values.Get("at"), 10, 64); err != nil {
			return badRequest("invalid at: %v", err)
		}
		from, to = 0, at
	}

	rows, err := s.opts.Ledger.GetByTimeRange(r.Context(), chain, typ, strings.ToUpper(vars["symbol"]), from, to)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", typ, err)
	}

	if hasAt {
		row, err := lookup.ValueAt(at, rows)
		if row == nil || err != nil {
			return writeJSON(w, nil)
		}
		return writeJSON(w, toLedgerRow(row))
	}

	out := make([]ledgerRow, len(rows))
	for i, row := range rows {
		out[i] = toLedgerRow(row)
	}
	return writeJSON(w, out)
}

func toLedgerRow(row *domain.DerivedStateRow) ledgerRow {
	return ledgerRow{T: row.Timestamp, BlockNumber: row.BlockNumber, LogIndex: row.LogIndex, Value: row.Value.String()}
}

type priceResponse struct {
	T       int64         `json:"t"`
	Price   float64       `json:"price"`
	ChainID int64         `json:"chainId"`
	Source  domain.Source `json:"source"`
}

// handlePrice returns the close of the latest candle at or before at, defaulting to now.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) error {
	q, err := s.parsePriceQuery(r, false)
	if err != nil {
		return err
	}
	if q.period == "" {
		q.period = domain.CandlePeriods[0]
	}
	at := q.to
	if v := r.URL.Query().Get("at"); v != "" {
		if at, err = strconv.ParseInt(v, 10, 64); err != nil {
			return badRequest("invalid at: %v", err)
		}
	}
	q.from, q.to = 0, at

	targets, err := s.targets(q)
	if err != nil {
		return err
	}
	for _, t := range targets {
		prices, _ := s.candles(t, q)
		c, err := lookup.PriceAt(at, prices)
		if err != nil {
			continue
		}
		return writeJSON(w, priceResponse{T: c.T, Price: c.C, ChainID: t.chainID, Source: t.source})
	}
	return writeJSON(w, nil)
}
