package domain

import (
	"sort"
	"strings"
)

// Well-known chain ids.
const (
	ChainArbitrum  int64 = 42161
	ChainAvalanche int64 = 43114
)

// Token is a tracked ERC20 on one chain.
type Token struct {
	Symbol   string
	Address  string // lower-case hex
	Decimals int32
}

// Chain holds per-network constants.
type Chain struct {
	ID   int64
	Name string
	// StartTimestamp is the protocol launch on this chain. Older data is rejected.
	StartTimestamp int64
	Vault          string
	LiquidityToken string
	Tokens         []Token
}

// TokenBySymbol looks up a token case-insensitively.
func (c *Chain) TokenBySymbol(symbol string) (Token, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return Token{}, false
}

// TokenByAddress looks up a token by address.
func (c *Chain) TokenByAddress(addr string) (Token, bool) {
	addr = NormalizeAddress(addr)
	for _, t := range c.Tokens {
		if t.Address == addr {
			return t, true
		}
	}
	return Token{}, false
}

// Registry is an immutable set of chains.
type Registry struct {
	chains map[int64]*Chain
	ids    []int64
}

// NewRegistry builds a registry. Addresses are normalized.
func NewRegistry(chains ...Chain) *Registry {
	r := &Registry{chains: make(map[int64]*Chain, len(chains))}
	for i := range chains {
		c := chains[i]
		c.Vault = NormalizeAddress(c.Vault)
		c.LiquidityToken = NormalizeAddress(c.LiquidityToken)
		tokens := make([]Token, len(c.Tokens))
		for j, t := range c.Tokens {
			t.Address = NormalizeAddress(t.Address)
			tokens[j] = t
		}
		c.Tokens = tokens
		r.chains[c.ID] = &c
		r.ids = append(r.ids, c.ID)
	}
	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	return r
}

// Chain returns the chain with the given id.
func (r *Registry) Chain(id int64) (*Chain, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// IDs returns chain ids in ascending order.
func (r *Registry) IDs() []int64 {
	out := make([]int64, len(r.ids))
	copy(out, r.ids)
	return out
}

// DefaultRegistry returns the Arbitrum and Avalanche deployments.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Chain{
			ID:             ChainArbitrum,
			Name:           "arbitrum",
			StartTimestamp: 1630368000,
			Vault:          "0x489ee077994B6658eAfA855C308275EAd8097C4A",
			LiquidityToken: "0x4277f8F2c384827B5273592FF7CeBd9f2C1ac258",
			Tokens: []Token{
				{Symbol: "ETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
				{Symbol: "BTC", Address: "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", Decimals: 8},
				{Symbol: "LINK", Address: "0xf97f4df75117a78c1A5a0DBb814Af92458539FB4", Decimals: 18},
				{Symbol: "UNI", Address: "0xFa7F8980b0f1E64A2062791cc3b0871572f1F7f0", Decimals: 18},
				{Symbol: "USDC", Address: "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8", Decimals: 6},
			},
		},
		Chain{
			ID:             ChainAvalanche,
			Name:           "avalanche",
			StartTimestamp: 1641430800,
			Vault:          "0x9ab2De34A33fB459b538c43f251eB825645e8595",
			LiquidityToken: "0x01234181085565ed162a948b6a5e88758CD7c7b8",
			Tokens: []Token{
				{Symbol: "AVAX", Address: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", Decimals: 18},
				{Symbol: "ETH", Address: "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", Decimals: 18},
				{Symbol: "BTC", Address: "0x152b9d0FdC40C096757F570A51E494bd4b943E50", Decimals: 8},
			},
		},
	)
}
