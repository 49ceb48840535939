package ingestion

import (
	"fmt"
	"sort"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/ledger"
)

// SortLogs orders logs by (block_number ASC, log_index ASC, tx_hash ASC).
// tx_hash only breaks ties between malformed duplicates.
func SortLogs(logs []*domain.LogRecord) {
	sort.Slice(logs, func(i, j int) bool {
		return compareLogs(logs[i], logs[j]) < 0
	})
}

// ValidateLogOrdering checks that log positions are strictly increasing.
// Two logs at one (block, log index) fail even when their tx hashes differ.
func ValidateLogOrdering(logs []*domain.LogRecord) error {
	for i := 1; i < len(logs); i++ {
		prev, cur := logs[i-1].Position(), logs[i].Position()
		if prev.Compare(cur) >= 0 {
			return fmt.Errorf("%w: %d/%d after %d/%d (tx %s)",
				ledger.ErrInvalidOrdering, cur.BlockNumber, cur.LogIndex, prev.BlockNumber, prev.LogIndex, logs[i].TxHash)
		}
	}
	return nil
}

// compareLogs returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareLogs(a, b *domain.LogRecord) int {
	if c := a.Position().Compare(b.Position()); c != 0 {
		return c
	}
	switch {
	case a.TxHash < b.TxHash:
		return -1
	case a.TxHash > b.TxHash:
		return 1
	}
	return 0
}
