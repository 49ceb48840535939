// Package candles resamples raw price points into fixed-period OHLC candles.
package candles

import (
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
)

// Aggregator buckets points into candles.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger.Named("candles")}
}

// Aggregate groups points into buckets of periodSeconds in one pass.
// Each candle opens at the previous close. Points older than their predecessor are skipped.
// Fewer than two points yield no candles.
func (a *Aggregator) Aggregate(points []domain.Point, periodSeconds int64) []domain.Candle {
	if len(points) < 2 || periodSeconds <= 0 {
		return nil
	}

	var (
		out     []domain.Candle
		cur     domain.Candle
		open    bool
		prevT   = points[0].T
		skipped int
	)
	for i, p := range points {
		if i > 0 && p.T < prevT {
			skipped++
			a.logger.Warn("skipping out-of-order point",
				zap.Int("index", i),
				zap.Int64("t", p.T),
				zap.Int64("prev_t", prevT))
			continue
		}
		prevT = p.T

		bucket := floorDiv(p.T, periodSeconds) * periodSeconds
		switch {
		case !open:
			cur = domain.Candle{T: bucket, O: p.Value, H: p.Value, L: p.Value, C: p.Value}
			open = true
		case bucket != cur.T:
			out = append(out, cur)
			prevClose := cur.C
			cur = domain.Candle{
				T: bucket,
				O: prevClose,
				H: max(prevClose, p.Value),
				L: min(prevClose, p.Value),
				C: p.Value,
			}
		default:
			cur.H = max(cur.H, p.Value)
			cur.L = min(cur.L, p.Value)
			cur.C = p.Value
		}
	}
	if open {
		out = append(out, cur)
	}
	if skipped > 0 {
		observability.RecordSkip("out_of_order")
	}
	return out
}

// AggregateCandles resamples point-candles by their close.
func (a *Aggregator) AggregateCandles(in []domain.Candle, periodSeconds int64) []domain.Candle {
	points := make([]domain.Point, len(in))
	for i, c := range in {
		points[i] = c.Point()
	}
	return a.Aggregate(points, periodSeconds)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
