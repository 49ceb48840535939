package domain

import (
	"encoding/json"
	"math"
	"math/big"
	"time"
)

// Direction is the traversal order of a ledger replay.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// Position orders ledger entries by (block_number, log_index).
type Position struct {
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    int64  `json:"logIndex"`
}

// SeedLogIndex positions a seed row after every log of its block.
const SeedLogIndex = int64(math.MaxInt32)

// Compare returns -1, 0 or 1.
func (p Position) Compare(o Position) int {
	switch {
	case p.BlockNumber < o.BlockNumber:
		return -1
	case p.BlockNumber > o.BlockNumber:
		return 1
	case p.LogIndex < o.LogIndex:
		return -1
	case p.LogIndex > o.LogIndex:
		return 1
	}
	return 0
}

// DerivedStateRow is one append-only ledger entry.
// Value is the state after the log at (BlockNumber, LogIndex) was applied.
type DerivedStateRow struct {
	ChainID     int64
	Value       *big.Int
	ValueHex    string
	Symbol      string // tracked key, e.g. token symbol or "GLP"
	Type        string // ledger name, e.g. "poolAmount"
	Timestamp   int64  // block timestamp, Unix seconds
	BlockNumber uint64
	LogIndex    int64
}

// NewDerivedStateRow builds a row and fills the hex rendering of the value.
func NewDerivedStateRow(chainID int64, typ, symbol string, value *big.Int, ts int64, pos Position) *DerivedStateRow {
	v := new(big.Int).Set(value)
	return &DerivedStateRow{
		ChainID:     chainID,
		Value:       v,
		ValueHex:    "0x" + v.Text(16),
		Symbol:      symbol,
		Type:        typ,
		Timestamp:   ts,
		BlockNumber: pos.BlockNumber,
		LogIndex:    pos.LogIndex,
	}
}

// Position returns the ledger position of the row.
func (r *DerivedStateRow) Position() Position {
	return Position{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex}
}

// Meta is a persisted key-value cursor.
type Meta struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}
