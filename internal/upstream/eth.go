package upstream

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
)

// EthClient wraps ethclient with per-call timeouts and bounded retries.
type EthClient struct {
	chainID int64
	client  *ethclient.Client
	timeout time.Duration
	retry   RetryConfig
	logger  *zap.Logger
	signer  types.Signer
}

// DialEth connects to an EVM JSON-RPC endpoint.
func DialEth(ctx context.Context, chainID int64, rawURL string, timeout time.Duration, opts ...Option) (*EthClient, error) {
	o := buildOptions(opts)
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %d: %w", chainID, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EthClient{
		chainID: chainID,
		client:  client,
		timeout: timeout,
		retry:   o.retry,
		logger:  o.logger.Named("eth").With(zap.Int64("chain_id", chainID)),
		signer:  types.LatestSignerForChainID(big.NewInt(chainID)),
	}, nil
}

// Close closes the underlying RPC connection.
func (c *EthClient) Close() {
	c.client.Close()
}

// ChainID returns the configured chain id.
func (c *EthClient) ChainID() int64 {
	return c.chainID
}

func (c *EthClient) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	return WithBackoff(ctx, c.retry, c.logger, "eth."+method, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		start := time.Now()
		err := fn(callCtx)
		observability.RecordUpstreamCall("rpc", method, time.Since(start).Seconds())
		return err
	})
}

// BlockNumber returns the current head.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.do(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		n, err = c.client.BlockNumber(ctx)
		return err
	})
	return n, err
}

// FilterLogs returns logs emitted by addresses in [from, to].
func (c *EthClient) FilterLogs(ctx context.Context, addresses []string, from, to uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
	for _, a := range addresses {
		q.Addresses = append(q.Addresses, common.HexToAddress(a))
	}

	var logs []types.Log
	err := c.do(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.client.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

// HeaderByNumber returns the block summary for n.
func (c *EthClient) HeaderByNumber(ctx context.Context, n uint64) (*domain.Block, error) {
	var h *types.Header
	err := c.do(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		h, err = c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.Block{
		ChainID:   c.chainID,
		Number:    h.Number.Uint64(),
		Hash:      domain.NormalizeAddress(h.Hash().Hex()),
		Timestamp: int64(h.Time),
	}, nil
}

// TransactionByHash returns the transaction summary. From is empty when the sender cannot be recovered.
func (c *EthClient) TransactionByHash(ctx context.Context, hash string, blockNumber uint64) (*domain.Transaction, error) {
	var tx *types.Transaction
	err := c.do(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
		var err error
		tx, _, err = c.client.TransactionByHash(ctx, common.HexToHash(hash))
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &domain.Transaction{
		ChainID:     c.chainID,
		Hash:        domain.NormalizeAddress(hash),
		BlockNumber: blockNumber,
	}
	if to := tx.To(); to != nil {
		out.To = domain.NormalizeAddress(to.Hex())
	}
	if from, err := types.Sender(c.signer, tx); err == nil {
		out.From = domain.NormalizeAddress(from.Hex())
	}
	return out, nil
}

// CallContract executes a read-only call at block.
func (c *EthClient) CallContract(ctx context.Context, to string, data []byte, block uint64) ([]byte, error) {
	addr := common.HexToAddress(to)
	msg := ethereum.CallMsg{To: &addr, Data: data}

	var out []byte
	err := c.do(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = c.client.CallContract(ctx, msg, new(big.Int).SetUint64(block))
		return err
	})
	return out, err
}
