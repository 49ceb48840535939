package ingestion

import (
	"errors"
	"testing"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/ledger"
)

func TestSortLogs(t *testing.T) {
	logs := []*domain.LogRecord{
		{BlockNumber: 5, LogIndex: 2, TxHash: "0xb"},
		{BlockNumber: 3, LogIndex: 9, TxHash: "0xa"},
		{BlockNumber: 5, LogIndex: 0, TxHash: "0xc"},
		{BlockNumber: 5, LogIndex: 2, TxHash: "0xa"},
	}
	SortLogs(logs)

	want := []struct {
		block uint64
		idx   uint
		tx    string
	}{{3, 9, "0xa"}, {5, 0, "0xc"}, {5, 2, "0xa"}, {5, 2, "0xb"}}
	for i, w := range want {
		if logs[i].BlockNumber != w.block || logs[i].LogIndex != w.idx || logs[i].TxHash != w.tx {
			t.Errorf("index %d: got %d/%d %s, want %d/%d %s", i, logs[i].BlockNumber, logs[i].LogIndex, logs[i].TxHash, w.block, w.idx, w.tx)
		}
	}
}

func TestValidateLogOrdering(t *testing.T) {
	ordered := []*domain.LogRecord{{BlockNumber: 1, LogIndex: 0}, {BlockNumber: 1, LogIndex: 1}, {BlockNumber: 2, LogIndex: 0}}
	if err := ValidateLogOrdering(ordered); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	dup := []*domain.LogRecord{{BlockNumber: 1, LogIndex: 0, TxHash: "0xa"}, {BlockNumber: 1, LogIndex: 0, TxHash: "0xb"}}
	if err := ValidateLogOrdering(dup); !errors.Is(err, ledger.ErrInvalidOrdering) {
		t.Errorf("expected ErrInvalidOrdering for a shared position, got %v", err)
	}

	regressed := []*domain.LogRecord{{BlockNumber: 2, LogIndex: 0}, {BlockNumber: 1, LogIndex: 5}}
	if err := ValidateLogOrdering(regressed); !errors.Is(err, ledger.ErrInvalidOrdering) {
		t.Errorf("expected ErrInvalidOrdering for a regression, got %v", err)
	}

	if err := ValidateLogOrdering(nil); err != nil {
		t.Errorf("expected no error for empty input, got %v", err)
	}
}
