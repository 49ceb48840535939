package ingestion

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"testing"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/ledger"
	"dex-analytics/internal/storage/memory"
	"dex-analytics/internal/upstream"
)

const (
	testVault = "0x00000000000000000000000000000000000000f1"
	testToken = "0x00000000000000000000000000000000000000e1"
)

var vaultABI = upstream.MustParseABI(upstream.VaultABI)

type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	headers int
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) FilterLogs(_ context.Context, _ []string, from, to uint64) ([]types.Log, error) {
	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *fakeChain) HeaderByNumber(_ context.Context, n uint64) (*domain.Block, error) {
	c.mu.Lock()
	c.headers++
	c.mu.Unlock()
	return &domain.Block{ChainID: 42161, Number: n, Hash: fmt.Sprintf("0xb%d", n), Timestamp: int64(n) * 12}, nil
}

func (c *fakeChain) TransactionByHash(_ context.Context, hash string, block uint64) (*domain.Transaction, error) {
	return &domain.Transaction{ChainID: 42161, Hash: hash, BlockNumber: block, From: "0x00000000000000000000000000000000000000aa", To: testVault}, nil
}

func poolLog(t *testing.T, addr string, block uint64, idx uint, amount int64) types.Log {
	t.Helper()
	event := vaultABI.Events["IncreasePoolAmount"]
	data, err := event.Inputs.NonIndexed().Pack(common.HexToAddress(testToken), big.NewInt(amount))
	require.NoError(t, err)
	return types.Log{
		Address:     common.HexToAddress(addr),
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       idx,
	}
}

type ingesterFixture struct {
	chain  *fakeChain
	logs   *memory.LogStore
	blocks *memory.BlockStore
	txs    *memory.TransactionStore
	g      *LogIngester
}

func newIngesterFixture(t *testing.T, head, start uint64) *ingesterFixture {
	t.Helper()
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)

	f := &ingesterFixture{
		chain:  &fakeChain{head: head},
		logs:   memory.NewLogStore(),
		blocks: memory.NewBlockStore(),
		txs:    memory.NewTransactionStore(),
	}
	f.g = NewLogIngester(LogIngesterOptions{
		ChainID:     42161,
		Source:      f.chain,
		Decoder:     upstream.NewLogDecoder(42161, map[string]abi.ABI{testVault: vaultABI}),
		Logs:        f.logs,
		Blocks:      f.blocks,
		Txs:         f.txs,
		Meta:        memory.NewMetaStore(),
		Pool:        pool,
		BlockWindow: 100,
		StartBlock:  start,
		Logger:      zap.NewNop(),
	})
	return f
}

func (f *ingesterFixture) all(t *testing.T) []*domain.LogRecord {
	t.Helper()
	logs, err := f.logs.GetAfter(context.Background(), 42161, nil, domain.Position{}, math.MaxUint64, 0)
	require.NoError(t, err)
	return logs
}

func TestLogIngester_ForwardAndBackward(t *testing.T) {
	ctx := context.Background()
	f := newIngesterFixture(t, 10000, 9900)
	f.chain.logs = []types.Log{
		poolLog(t, testVault, 9900, 0, 1),
		poolLog(t, testVault, 9950, 3, 2),
		poolLog(t, testVault, 10000, 1, 3),
		poolLog(t, testVault, 10050, 0, 4),
		poolLog(t, testVault, 10050, 2, 5),
		poolLog(t, "0x00000000000000000000000000000000000000ff", 10060, 0, 6),
	}

	_, ok, err := f.g.Window(ctx, 42161)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := f.g.RunForward(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	w, ok, err := f.g.Window(ctx, 42161)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.LogWindow{Origin: 10000, Low: 10001, High: 10000}, w)

	f.chain.head = 10150
	n, err = f.g.RunForward(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "undecodable log skipped")

	n, done, err := f.g.RunBackward(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, done)

	n, done, err = f.g.RunBackward(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, done)

	n, done, err = f.g.RunBackward(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, done)

	w, _, err = f.g.Window(ctx, 42161)
	require.NoError(t, err)
	assert.Equal(t, domain.LogWindow{Origin: 10000, Low: 9900, High: 10100}, w)

	logs := f.all(t)
	require.Len(t, logs, 5)
	assert.Equal(t, "IncreasePoolAmount", logs[0].Name)
	assert.Equal(t, []string{testToken, "1"}, logs[0].Args)

	blocks, err := f.blocks.GetByNumbers(ctx, 42161, []uint64{9900, 9950, 10000, 10050})
	require.NoError(t, err)
	assert.Len(t, blocks, 4)
	assert.Equal(t, int64(10050*12), blocks[10050].Timestamp)

	tx, err := f.txs.GetByHash(ctx, 42161, logs[0].TxHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(9900), tx.BlockNumber)
}

func TestLogIngester_IdempotentRerun(t *testing.T) {
	ctx := context.Background()
	f := newIngesterFixture(t, 100, 0)
	f.chain.logs = []types.Log{poolLog(t, testVault, 50, 0, 1), poolLog(t, testVault, 50, 1, 1)}

	_, _, err := f.g.RunBackward(ctx)
	require.NoError(t, err)
	headers := f.chain.headers

	// a second ingester over the same stores re-reads the range
	n, err := f.g.ingest(ctx, 0, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, headers, f.chain.headers, "known blocks are not fetched again")
	assert.Len(t, f.all(t), 2)
}

func TestLogIngester_RejectsSharedPosition(t *testing.T) {
	ctx := context.Background()
	f := newIngesterFixture(t, 100, 0)
	other := poolLog(t, testVault, 50, 1, 7)
	other.TxHash = common.HexToHash("0xdead")
	f.chain.logs = []types.Log{poolLog(t, testVault, 50, 0, 1), poolLog(t, testVault, 50, 1, 2), other}

	_, _, err := f.g.RunBackward(ctx)
	require.ErrorIs(t, err, ledger.ErrInvalidOrdering)
	assert.Empty(t, f.all(t), "the window is rejected as a whole")

	w, ok, err := f.g.Window(ctx, 42161)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(101), w.Low, "the cursor does not move past a rejected window")
}
