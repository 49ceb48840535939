package idhash

import (
	"testing"

	"dex-analytics/internal/domain"
)

func TestComputePricePointID(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		period    domain.Period
		source    domain.Source
		timestamp int64
	}{
		{
			name:      "oracle round",
			token:     "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
			period:    domain.PeriodRaw,
			source:    domain.SourceChainlink,
			timestamp: 1704067234,
		},
		{
			name:      "fast candle",
			token:     "0x2f2a2543b76a4166549f7aab2e75bef0aefc5b0f",
			period:    domain.Period5m,
			source:    domain.SourceFast,
			timestamp: 1704067200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputePricePointID(tt.token, tt.period, tt.source, tt.timestamp)
			if len(got) != 64 {
				t.Errorf("ComputePricePointID() length = %d, want 64", len(got))
			}
			if again := ComputePricePointID(tt.token, tt.period, tt.source, tt.timestamp); again != got {
				t.Errorf("ComputePricePointID() not deterministic: %s != %s", got, again)
			}
		})
	}
}

func TestComputePricePointID_AddressCase(t *testing.T) {
	lower := ComputePricePointID("0xabc", domain.PeriodRaw, domain.SourceChainlink, 1)
	upper := ComputePricePointID("0xABC", domain.PeriodRaw, domain.SourceChainlink, 1)
	if lower != upper {
		t.Errorf("address case changed the id: %s != %s", lower, upper)
	}
}

func TestComputePricePointID_Distinct(t *testing.T) {
	base := ComputePricePointID("0xabc", domain.Period5m, domain.SourceFast, 300)
	for name, other := range map[string]string{
		"token":     ComputePricePointID("0xabd", domain.Period5m, domain.SourceFast, 300),
		"period":    ComputePricePointID("0xabc", domain.Period15m, domain.SourceFast, 300),
		"source":    ComputePricePointID("0xabc", domain.Period5m, domain.SourceChainlink, 300),
		"timestamp": ComputePricePointID("0xabc", domain.Period5m, domain.SourceFast, 600),
	} {
		if other == base {
			t.Errorf("changing %s did not change the id", name)
		}
	}
}

func TestComputeRevisionID(t *testing.T) {
	key := domain.SeriesKey{ChainID: 42161, Token: "0xabc", Period: domain.Period5m, Source: domain.SourceFast}
	c := domain.Candle{T: 300, O: 1, H: 2, L: 0.5, C: 1.5}

	if ComputeRevisionID(key, c) != ComputeRevisionID(key, c) {
		t.Error("ComputeRevisionID() not deterministic")
	}
	revised := c
	revised.C = 1.75
	if ComputeRevisionID(key, c) == ComputeRevisionID(key, revised) {
		t.Error("a revised close kept the same id")
	}
	other := key
	other.Period = domain.Period15m
	if ComputeRevisionID(key, c) == ComputeRevisionID(other, c) {
		t.Error("a different series kept the same id")
	}
}
