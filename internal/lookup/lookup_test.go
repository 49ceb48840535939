package lookup

import (
	"math/big"
	"testing"

	"dex-analytics/internal/domain"
)

func TestPriceAt_EmptySlice(t *testing.T) {
	_, err := PriceAt(1000, nil)
	if err != ErrNoPriceData {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}
}

func TestPriceAt(t *testing.T) {
	candles := []domain.Candle{
		{T: 1000, C: 1.0},
		{T: 2000, C: 2.0},
		{T: 3000, C: 3.0},
	}

	tests := []struct {
		name   string
		target int64
		want   float64
	}{
		{"exact match", 2000, 2.0},
		{"between points", 2500, 2.0},
		{"after last", 9000, 3.0},
		{"before first uses first", 500, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PriceAt(tt.target, candles)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.C != tt.want {
				t.Errorf("PriceAt(%d) = %f, want %f", tt.target, got.C, tt.want)
			}
		})
	}
}

func TestValueAt(t *testing.T) {
	row := func(ts int64, v int64, block uint64) *domain.DerivedStateRow {
		return domain.NewDerivedStateRow(1, "supply", "GLP", big.NewInt(v), ts, domain.Position{BlockNumber: block})
	}
	rows := []*domain.DerivedStateRow{row(100, 10, 1), row(100, 12, 1), row(200, 7, 2)}

	if _, err := ValueAt(100, nil); err != ErrNoLedgerData {
		t.Errorf("expected ErrNoLedgerData, got %v", err)
	}

	got, err := ValueAt(50, rows)
	if err != nil || got != nil {
		t.Errorf("ValueAt before first row = %v, %v; want nil, nil", got, err)
	}

	got, err = ValueAt(150, rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value.Int64() != 12 {
		t.Errorf("ValueAt(150) = %s, want last row of the block (12)", got.Value)
	}

	got, _ = ValueAt(200, rows)
	if got.Value.Int64() != 7 {
		t.Errorf("ValueAt(200) = %s, want 7", got.Value)
	}
}
