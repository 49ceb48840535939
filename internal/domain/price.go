package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrMalformedPrice is returned when a raw price fails shape validation.
var ErrMalformedPrice = errors.New("malformed price record")

// RawPricePoint is a fixed-point price record as returned by an upstream.
// Ownership: produced by an upstream client, consumed once by a series feed.
type RawPricePoint struct {
	ID        string   // unique upstream identifier
	Token     string   // lower-case hex address
	Period    Period   // PeriodRaw for oracle rounds
	Timestamp int64    // Unix seconds
	Open      *big.Int // nil for oracle rounds
	High      *big.Int // nil for oracle rounds
	Low       *big.Int // nil for oracle rounds
	Close     *big.Int
	Scale     int32 // fixed-point decimals: 30 for graph candles, 8 for oracle feeds
}

// Validate checks the basic shape of the record.
func (p *RawPricePoint) Validate() error {
	if p == nil {
		return ErrMalformedPrice
	}
	if p.ID == "" || p.Token == "" {
		return fmt.Errorf("%w: missing id or token", ErrMalformedPrice)
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("%w: id=%s non-positive timestamp", ErrMalformedPrice, p.ID)
	}
	if p.Close == nil || p.Close.Sign() <= 0 {
		return fmt.Errorf("%w: id=%s missing close", ErrMalformedPrice, p.ID)
	}
	if p.Period != PeriodRaw {
		for _, v := range []*big.Int{p.Open, p.High, p.Low} {
			if v == nil || v.Sign() <= 0 {
				return fmt.Errorf("%w: id=%s missing ohl", ErrMalformedPrice, p.ID)
			}
		}
		if p.High.Cmp(p.Low) < 0 {
			return fmt.Errorf("%w: id=%s high below low", ErrMalformedPrice, p.ID)
		}
	}
	return nil
}

// Candle converts the fixed-point record into a float candle.
// Oracle rounds become flat candles (o=h=l=c).
func (p *RawPricePoint) Candle() Candle {
	c := ScaledFloat(p.Close, p.Scale)
	if p.Period == PeriodRaw || p.Open == nil {
		return PointCandle(p.Timestamp, c)
	}
	return Candle{
		T: p.Period.Align(p.Timestamp),
		O: ScaledFloat(p.Open, p.Scale),
		H: ScaledFloat(p.High, p.Scale),
		L: ScaledFloat(p.Low, p.Scale),
		C: c,
	}
}

// ScaledFloat converts a fixed-point integer with the given decimals to float64.
func ScaledFloat(v *big.Int, scale int32) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -scale).InexactFloat64()
}

// ParseScaled parses a decimal integer string into a big.Int.
func ParseScaled(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}
