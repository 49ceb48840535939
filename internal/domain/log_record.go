package domain

import "strings"

// LogRecord is a decoded contract event.
// Corresponds to the logs table; primary key is (chain_id, block_number, tx_hash, log_index).
type LogRecord struct {
	ChainID     int64
	Address     string // emitting contract, lower-case hex
	BlockNumber uint64
	BlockHash   string
	TxHash      string
	LogIndex    uint
	Name        string   // event name, e.g. "IncreasePoolAmount"
	Args        []string // ABI-ordered arguments; addresses lower-case hex, integers base 10
}

// Position returns the ledger position of the record.
func (r *LogRecord) Position() Position {
	return Position{BlockNumber: r.BlockNumber, LogIndex: int64(r.LogIndex)}
}

// Arg returns the i-th argument or "" when absent.
func (r *LogRecord) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Block is a block header summary.
type Block struct {
	ChainID   int64
	Number    uint64
	Hash      string
	Timestamp int64 // Unix seconds
}

// Transaction is a transaction summary.
type Transaction struct {
	ChainID     int64
	Hash        string
	To          string
	From        string
	BlockNumber uint64
}

// NormalizeAddress lower-cases a hex address for use as a map key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// LogWindow is the contiguous block range whose logs are fully ingested.
// Origin is where ingestion started; Low..High grows outward from it.
// The range is empty while Low > High.
type LogWindow struct {
	Origin uint64 `json:"origin"`
	Low    uint64 `json:"low"`
	High   uint64 `json:"high"`
}

// Contains reports whether block n is inside the ingested range.
func (w LogWindow) Contains(n uint64) bool {
	return w.Low <= n && n <= w.High
}
