package domain

import (
	"fmt"
	"strings"
)

// Candle is one OHLC bucket of a price series.
// T is the bucket start in Unix seconds, aligned to the series period.
type Candle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
}

// Point is a raw price observation before aggregation.
type Point struct {
	T     int64   `json:"t"`
	Value float64 `json:"value"`
}

// PointCandle wraps a raw observation as a flat candle so points and candles share one store.
func PointCandle(t int64, v float64) Candle {
	return Candle{T: t, O: v, H: v, L: v, C: v}
}

// Point returns the close of a candle as a raw observation.
func (c Candle) Point() Point {
	return Point{T: c.T, Value: c.C}
}

// Period is the bucket width of a series.
type Period string

// Supported periods. PeriodRaw marks un-aggregated oracle points.
const (
	PeriodRaw Period = "raw"
	Period5m  Period = "5m"
	Period15m Period = "15m"
	Period1h  Period = "1h"
	Period4h  Period = "4h"
	Period1d  Period = "1d"
	Period1w  Period = "1w"
)

var periodSeconds = map[Period]int64{
	PeriodRaw: 0,
	Period5m:  5 * 60,
	Period15m: 15 * 60,
	Period1h:  60 * 60,
	Period4h:  4 * 60 * 60,
	Period1d:  24 * 60 * 60,
	Period1w:  7 * 24 * 60 * 60,
}

// CandlePeriods lists the periods served by the candles endpoint, smallest first.
var CandlePeriods = []Period{Period5m, Period15m, Period1h, Period4h, Period1d, Period1w}

// ParsePeriod validates a period string from the API or configuration.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if p == PeriodRaw {
		return "", fmt.Errorf("unsupported period %q", s)
	}
	if _, ok := periodSeconds[p]; !ok {
		return "", fmt.Errorf("unsupported period %q", s)
	}
	return p, nil
}

// Seconds returns the bucket width. Raw series return 0.
func (p Period) Seconds() int64 {
	return periodSeconds[p]
}

// String returns the string representation of Period.
func (p Period) String() string {
	return string(p)
}

// IsValid checks if the period is a known value.
func (p Period) IsValid() bool {
	_, ok := periodSeconds[p]
	return ok
}

// Align floors a timestamp to the start of its period bucket.
func (p Period) Align(ts int64) int64 {
	s := p.Seconds()
	if s == 0 {
		return ts
	}
	return ts - mod(ts, s)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// SeriesKey identifies one in-memory series.
type SeriesKey struct {
	ChainID int64
	Token   string // lower-case hex address
	Period  Period
	Source  Source
}

// String renders the key for logs and cache keys.
func (k SeriesKey) String() string {
	return fmt.Sprintf("%d|%s|%s|%s", k.ChainID, k.Token, k.Period, k.Source)
}
