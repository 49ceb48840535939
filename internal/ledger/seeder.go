package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/upstream"
)

// ChainReader is the slice of the RPC client the ledger needs.
type ChainReader interface {
	CallContract(ctx context.Context, to string, data []byte, block uint64) ([]byte, error)
	HeaderByNumber(ctx context.Context, n uint64) (*domain.Block, error)
}

// Seeder reads the live value of every tracked key at a block.
type Seeder interface {
	Seed(ctx context.Context, chain *domain.Chain, block uint64) (map[string]*big.Int, error)
}

var (
	vaultABI = upstream.MustParseABI(upstream.VaultABI)
	erc20ABI = upstream.MustParseABI(upstream.ERC20ABI)
)

func callUint(ctx context.Context, r ChainReader, contract abi.ABI, to, method string, block uint64, args ...any) (*big.Int, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.CallContract(ctx, to, data, block)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: %d outputs", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected %T", method, values[0])
	}
	return v, nil
}

// PoolAmountSeeder reads poolAmounts(token) from the vault for every chain token.
type PoolAmountSeeder struct {
	Reader ChainReader
}

// Seed implements Seeder.
func (s PoolAmountSeeder) Seed(ctx context.Context, chain *domain.Chain, block uint64) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(chain.Tokens))
	for _, t := range chain.Tokens {
		v, err := callUint(ctx, s.Reader, vaultABI, chain.Vault, "poolAmounts", block, common.HexToAddress(t.Address))
		if err != nil {
			return nil, fmt.Errorf("seed pool amount %s: %w", t.Symbol, err)
		}
		out[t.Symbol] = v
	}
	return out, nil
}

// SupplySeeder reads totalSupply() of the liquidity token.
type SupplySeeder struct {
	Reader ChainReader
	Symbol string
}

// Seed implements Seeder.
func (s SupplySeeder) Seed(ctx context.Context, chain *domain.Chain, block uint64) (map[string]*big.Int, error) {
	v, err := callUint(ctx, s.Reader, erc20ABI, chain.LiquidityToken, "totalSupply", block)
	if err != nil {
		return nil, fmt.Errorf("seed supply: %w", err)
	}
	return map[string]*big.Int{s.Symbol: v}, nil
}
