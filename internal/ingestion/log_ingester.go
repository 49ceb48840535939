package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
	"dex-analytics/internal/storage"
	"dex-analytics/internal/upstream"
)

// ChainSource is the slice of the RPC client the log ingester needs.
type ChainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, addresses []string, from, to uint64) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, n uint64) (*domain.Block, error)
	TransactionByHash(ctx context.Context, hash string, blockNumber uint64) (*domain.Transaction, error)
}

// LogIngesterOptions configures a LogIngester.
type LogIngesterOptions struct {
	ChainID     int64
	Source      ChainSource
	Decoder     *upstream.LogDecoder
	Logs        storage.LogStore
	Blocks      storage.BlockStore
	Txs         storage.TransactionStore
	Meta        storage.MetaStore
	Pool        pond.Pool
	BlockWindow uint64 // blocks per eth_getLogs call, default 2000
	StartBlock  uint64 // backward ingestion stops here
	Logger      *zap.Logger
}

// LogIngester polls contract logs in both directions from the head block it first saw,
// keeping the ingested range contiguous. It is the WindowSource of the ledger.
type LogIngester struct {
	opts LogIngesterOptions

	mu     sync.Mutex
	logger *zap.Logger
}

// NewLogIngester creates an ingester.
func NewLogIngester(opts LogIngesterOptions) *LogIngester {
	if opts.BlockWindow == 0 {
		opts.BlockWindow = 2000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &LogIngester{
		opts:   opts,
		logger: opts.Logger.Named("logs").With(zap.Int64("chain_id", opts.ChainID)),
	}
}

func windowKey(chainID int64) string {
	return "logs:" + strconv.FormatInt(chainID, 10)
}

// Window returns the ingested block range. ok is false before the first run.
func (g *LogIngester) Window(ctx context.Context, chainID int64) (domain.LogWindow, bool, error) {
	m, err := g.opts.Meta.Get(ctx, windowKey(chainID))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.LogWindow{}, false, nil
	}
	if err != nil {
		return domain.LogWindow{}, false, err
	}
	var w domain.LogWindow
	if err := json.Unmarshal(m.Value, &w); err != nil {
		return domain.LogWindow{}, false, fmt.Errorf("decode log window: %w", err)
	}
	return w, true, nil
}

func (g *LogIngester) saveWindow(ctx context.Context, w domain.LogWindow) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return g.opts.Meta.Set(ctx, windowKey(g.opts.ChainID), raw)
}

// window loads the range, starting it at the current head on first use.
func (g *LogIngester) window(ctx context.Context) (domain.LogWindow, uint64, error) {
	head, err := g.opts.Source.BlockNumber(ctx)
	if err != nil {
		return domain.LogWindow{}, 0, fmt.Errorf("head block: %w", err)
	}
	w, ok, err := g.Window(ctx, g.opts.ChainID)
	if err != nil {
		return w, head, err
	}
	if !ok {
		w = domain.LogWindow{Origin: head, Low: head + 1, High: head}
		if err := g.saveWindow(ctx, w); err != nil {
			return w, head, err
		}
		g.logger.Info("log window started", zap.Uint64("origin", head))
	}
	return w, head, nil
}

// RunForward ingests the next block range above the window. It returns the number of new logs.
func (g *LogIngester) RunForward(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, head, err := g.window(ctx)
	if err != nil {
		return 0, err
	}
	from := w.High + 1
	to := min(head, w.High+g.opts.BlockWindow)
	if from > to {
		return 0, nil
	}
	n, err := g.ingest(ctx, from, to)
	if err != nil {
		return 0, err
	}
	w.High = to
	if err := g.saveWindow(ctx, w); err != nil {
		return n, err
	}
	observability.RecordLogsIngested(strconv.FormatInt(g.opts.ChainID, 10), n, to)
	return n, nil
}

// RunBackward ingests the next block range below the window, down to StartBlock.
// done reports that the start block has been reached.
func (g *LogIngester) RunBackward(ctx context.Context) (n int, done bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, _, err := g.window(ctx)
	if err != nil {
		return 0, false, err
	}
	if w.Low <= g.opts.StartBlock || w.Low == 0 {
		return 0, true, nil
	}
	to := w.Low - 1
	from := g.opts.StartBlock
	if to >= g.opts.BlockWindow && to-g.opts.BlockWindow+1 > from {
		from = to - g.opts.BlockWindow + 1
	}
	n, err = g.ingest(ctx, from, to)
	if err != nil {
		return 0, false, err
	}
	w.Low = from
	if err := g.saveWindow(ctx, w); err != nil {
		return n, false, err
	}
	observability.RecordLogsIngested(strconv.FormatInt(g.opts.ChainID, 10), n, from)
	return n, w.Low <= g.opts.StartBlock, nil
}

// ingest fetches, decodes and stores logs for [from, to] with their blocks and transactions.
// Logs are inserted last so the ledger never sees a log without its block.
func (g *LogIngester) ingest(ctx context.Context, from, to uint64) (int, error) {
	raw, err := g.opts.Source.FilterLogs(ctx, g.opts.Decoder.Addresses(), from, to)
	if err != nil {
		return 0, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	records := make([]*domain.LogRecord, 0, len(raw))
	for _, l := range raw {
		if l.Removed {
			continue
		}
		rec, err := g.opts.Decoder.Decode(l)
		if err != nil {
			g.logger.Warn("skipping undecodable log",
				zap.Uint64("block", l.BlockNumber),
				zap.Uint("log_index", l.Index),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return 0, nil
	}
	SortLogs(records)
	if err := ValidateLogOrdering(records); err != nil {
		return 0, fmt.Errorf("logs %d-%d: %w", from, to, err)
	}

	if err := g.enrich(ctx, records); err != nil {
		return 0, err
	}
	n, err := g.opts.Logs.InsertIgnore(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("insert logs: %w", err)
	}
	g.logger.Debug("ingested logs",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("decoded", len(records)),
		zap.Int("inserted", n))
	return n, nil
}

// enrich stores the blocks and transactions referenced by records, fetching them in parallel.
func (g *LogIngester) enrich(ctx context.Context, records []*domain.LogRecord) error {
	var numbers []uint64
	txBlock := make(map[string]uint64)
	seenBlock := make(map[uint64]bool)
	for _, r := range records {
		if !seenBlock[r.BlockNumber] {
			seenBlock[r.BlockNumber] = true
			numbers = append(numbers, r.BlockNumber)
		}
		txBlock[r.TxHash] = r.BlockNumber
	}

	known, err := g.opts.Blocks.GetByNumbers(ctx, g.opts.ChainID, numbers)
	if err != nil {
		return fmt.Errorf("load blocks: %w", err)
	}

	var (
		mu       sync.Mutex
		blocks   []*domain.Block
		txs      []*domain.Transaction
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	group := g.opts.Pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, n := range numbers {
		if _, ok := known[n]; ok {
			continue
		}
		group.Submit(func() {
			b, err := g.opts.Source.HeaderByNumber(groupCtx, n)
			if err != nil {
				fail(fmt.Errorf("header %d: %w", n, err))
				return
			}
			mu.Lock()
			blocks = append(blocks, b)
			mu.Unlock()
		})
	}
	for hash, block := range txBlock {
		group.Submit(func() {
			if _, err := g.opts.Txs.GetByHash(groupCtx, g.opts.ChainID, hash); err == nil {
				return
			}
			tx, err := g.opts.Source.TransactionByHash(groupCtx, hash, block)
			if err != nil {
				fail(fmt.Errorf("transaction %s: %w", hash, err))
				return
			}
			mu.Lock()
			txs = append(txs, tx)
			mu.Unlock()
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		g.logger.Warn("enrichment group error", zap.Error(err))
	}
	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := g.opts.Blocks.InsertIgnore(ctx, blocks); err != nil {
		return fmt.Errorf("insert blocks: %w", err)
	}
	if err := g.opts.Txs.InsertIgnore(ctx, txs); err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	return nil
}

// ChainID returns the chain the ingester polls.
func (g *LogIngester) ChainID() int64 {
	return g.opts.ChainID
}
