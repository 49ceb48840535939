package candles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
)

func pts(pairs ...float64) []domain.Point {
	out := make([]domain.Point, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.Point{T: int64(pairs[i]), Value: pairs[i+1]})
	}
	return out
}

func TestAggregate(t *testing.T) {
	agg := NewAggregator(zap.NewNop())

	tests := []struct {
		name   string
		points []domain.Point
		want   []domain.Candle
	}{
		{
			name:   "gap free",
			points: pts(0, 10, 30, 12, 70, 9, 130, 15),
			want: []domain.Candle{
				{T: 0, O: 10, H: 12, L: 10, C: 12},
				{T: 60, O: 12, H: 12, L: 9, C: 9},
				{T: 120, O: 9, H: 15, L: 9, C: 15},
			},
		},
		{
			name:   "multi period gap carries close",
			points: pts(0, 10, 10, 11, 300, 20),
			want: []domain.Candle{
				{T: 0, O: 10, H: 11, L: 10, C: 11},
				{T: 300, O: 11, H: 20, L: 11, C: 20},
			},
		},
		{
			name:   "out of order point skipped",
			points: pts(0, 10, 70, 12, 30, 99, 80, 8),
			want: []domain.Candle{
				{T: 0, O: 10, H: 10, L: 10, C: 10},
				{T: 60, O: 10, H: 12, L: 8, C: 8},
			},
		},
		{
			name:   "single point",
			points: pts(0, 10),
			want:   nil,
		},
		{
			name:   "empty",
			points: nil,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, agg.Aggregate(tt.points, 60))
		})
	}
}

func TestAggregate_NoDuplicateBuckets(t *testing.T) {
	agg := NewAggregator(zap.NewNop())
	var in []domain.Point
	for i := int64(0); i < 500; i++ {
		in = append(in, domain.Point{T: i * 17, Value: float64(i % 13)})
	}
	got := agg.Aggregate(in, 300)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].T, got[i].T)
		assert.Equal(t, got[i-1].C, got[i].O)
	}
}

func TestAggregateCandles(t *testing.T) {
	agg := NewAggregator(zap.NewNop())
	got := agg.AggregateCandles([]domain.Candle{
		domain.PointCandle(100, 1),
		domain.PointCandle(200, 3),
		domain.PointCandle(400, 2),
	}, 300)
	assert.Equal(t, []domain.Candle{
		{T: 0, O: 1, H: 3, L: 1, C: 3},
		{T: 300, O: 3, H: 3, L: 2, C: 2},
	}, got)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(-1), floorDiv(-1, 60))
	assert.Equal(t, int64(0), floorDiv(59, 60))
	assert.Equal(t, int64(1), floorDiv(60, 60))
}
