package ledger

import (
	"fmt"
	"math/big"

	"dex-analytics/internal/domain"
)

// Delta is one signed change to a tracked key.
type Delta struct {
	Symbol string
	Amount *big.Int
}

// Applier turns decoded logs into deltas for one ledger type.
type Applier interface {
	// Type names the ledger, e.g. "poolAmount".
	Type() string
	// EventNames lists the log names the applier consumes.
	EventNames() []string
	// Apply returns the deltas for rec, at most one per symbol.
	// Logs it cannot attribute return ErrUnsupported.
	Apply(chain *domain.Chain, rec *domain.LogRecord) ([]Delta, error)
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

func parseAmount(rec *domain.LogRecord, i int) (*big.Int, error) {
	v, ok := new(big.Int).SetString(rec.Arg(i), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s arg %d %q", ErrUnsupported, rec.Name, i, rec.Arg(i))
	}
	return v, nil
}

// PoolAmountApplier tracks vault pool amounts per token.
type PoolAmountApplier struct{}

// Type implements Applier.
func (PoolAmountApplier) Type() string { return "poolAmount" }

// EventNames implements Applier.
func (PoolAmountApplier) EventNames() []string {
	return []string{"IncreasePoolAmount", "DecreasePoolAmount"}
}

// Apply implements Applier. Args are (token, amount).
func (PoolAmountApplier) Apply(chain *domain.Chain, rec *domain.LogRecord) ([]Delta, error) {
	if rec.Address != chain.Vault {
		return nil, fmt.Errorf("%w: %s from %s", ErrUnsupported, rec.Name, rec.Address)
	}
	token, ok := chain.TokenByAddress(rec.Arg(0))
	if !ok {
		return nil, fmt.Errorf("%w: unknown token %s", ErrUnsupported, rec.Arg(0))
	}
	amount, err := parseAmount(rec, 1)
	if err != nil {
		return nil, err
	}
	switch rec.Name {
	case "IncreasePoolAmount":
	case "DecreasePoolAmount":
		amount.Neg(amount)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, rec.Name)
	}
	return []Delta{{Symbol: token.Symbol, Amount: amount}}, nil
}

// SupplyApplier tracks the liquidity token supply through mints and burns.
type SupplyApplier struct {
	Symbol string
}

// Type implements Applier.
func (SupplyApplier) Type() string { return "supply" }

// EventNames implements Applier.
func (SupplyApplier) EventNames() []string { return []string{"Transfer"} }

// Apply implements Applier. Args are (from, to, value).
// Transfers between holders leave the supply unchanged and yield no delta.
func (a SupplyApplier) Apply(chain *domain.Chain, rec *domain.LogRecord) ([]Delta, error) {
	if rec.Name != "Transfer" || rec.Address != chain.LiquidityToken {
		return nil, fmt.Errorf("%w: %s from %s", ErrUnsupported, rec.Name, rec.Address)
	}
	value, err := parseAmount(rec, 2)
	if err != nil {
		return nil, err
	}
	from, to := rec.Arg(0), rec.Arg(1)
	switch {
	case from == zeroAddress && to == zeroAddress:
		return nil, nil
	case from == zeroAddress:
		return []Delta{{Symbol: a.Symbol, Amount: value}}, nil
	case to == zeroAddress:
		return []Delta{{Symbol: a.Symbol, Amount: value.Neg(value)}}, nil
	}
	return nil, nil
}
