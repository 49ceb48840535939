package upstream

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dex-analytics/internal/domain"
)

// VaultABI covers the vault events and views used by the ledger.
const VaultABI = `[
  {"anonymous":false,"inputs":[{"indexed":false,"name":"token","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"IncreasePoolAmount","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":false,"name":"token","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"DecreasePoolAmount","type":"event"},
  {"inputs":[{"name":"","type":"address"}],"name":"poolAmounts","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// ERC20ABI covers Transfer and totalSupply.
const ERC20ABI = `[
  {"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"},
  {"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// ErrUnknownEvent is returned for logs whose topic matches no registered event.
var ErrUnknownEvent = errors.New("unknown event")

// MustParseABI parses a JSON ABI and panics on error. For package-level constants only.
func MustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// LogDecoder turns raw logs into LogRecords using a set of contract ABIs.
type LogDecoder struct {
	chainID int64
	byAddr  map[common.Address]abi.ABI
}

// NewLogDecoder maps each contract address to its ABI.
func NewLogDecoder(chainID int64, contracts map[string]abi.ABI) *LogDecoder {
	d := &LogDecoder{chainID: chainID, byAddr: make(map[common.Address]abi.ABI, len(contracts))}
	for addr, a := range contracts {
		d.byAddr[common.HexToAddress(addr)] = a
	}
	return d
}

// Decode decodes one log. Args follow the event's ABI input order.
func (d *LogDecoder) Decode(l types.Log) (*domain.LogRecord, error) {
	contract, ok := d.byAddr[l.Address]
	if !ok || len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	event, err := contract.EventByID(l.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}

	values := make(map[string]any, len(event.Inputs))
	if len(l.Data) > 0 {
		if err := contract.UnpackIntoMap(values, event.Name, l.Data); err != nil {
			return nil, fmt.Errorf("%w: unpack %s data: %v", ErrMalformed, event.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, in := range event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexed, l.Topics[1:]); err != nil {
			return nil, fmt.Errorf("%w: parse %s topics: %v", ErrMalformed, event.Name, err)
		}
	}

	args := make([]string, len(event.Inputs))
	for i, in := range event.Inputs {
		args[i] = formatArg(values[in.Name])
	}

	return &domain.LogRecord{
		ChainID:     d.chainID,
		Address:     domain.NormalizeAddress(l.Address.Hex()),
		BlockNumber: l.BlockNumber,
		BlockHash:   domain.NormalizeAddress(l.BlockHash.Hex()),
		TxHash:      domain.NormalizeAddress(l.TxHash.Hex()),
		LogIndex:    l.Index,
		Name:        event.Name,
		Args:        args,
	}, nil
}

// EventNames returns every event name the decoder knows.
func (d *LogDecoder) EventNames() []string {
	var names []string
	for _, a := range d.byAddr {
		for name := range a.Events {
			names = append(names, name)
		}
	}
	return names
}

// Addresses returns the contracts the decoder listens to.
func (d *LogDecoder) Addresses() []string {
	out := make([]string, 0, len(d.byAddr))
	for addr := range d.byAddr {
		out = append(out, domain.NormalizeAddress(addr.Hex()))
	}
	return out
}

func formatArg(v any) string {
	switch t := v.(type) {
	case common.Address:
		return domain.NormalizeAddress(t.Hex())
	case *big.Int:
		return t.String()
	case common.Hash:
		return t.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
