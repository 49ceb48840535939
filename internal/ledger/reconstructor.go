// Package ledger rebuilds append-only derived state from decoded contract logs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
	"dex-analytics/internal/storage"
)

// State is the lifecycle stage of one replay direction.
type State string

const (
	StateNoAnchor     State = "NO_ANCHOR"
	StateAnchorLoaded State = "ANCHOR_LOADED"
	StateReplaying    State = "REPLAYING"
	StateIdle         State = "IDLE"
)

// DefaultPageLimit caps the logs replayed per run.
const DefaultPageLimit = 500

// WindowSource reports the block range whose logs are fully ingested.
type WindowSource interface {
	Window(ctx context.Context, chainID int64) (domain.LogWindow, bool, error)
}

// Stores groups the persistence the reconstructor reads and writes.
type Stores struct {
	Logs   storage.LogStore
	Blocks storage.BlockStore
	State  storage.DerivedStateStore
	Meta   storage.MetaStore
}

// Status is a point-in-time view for monitoring.
type Status struct {
	Type      string          `json:"type"`
	ChainID   int64           `json:"chainId"`
	Direction string          `json:"direction"`
	State     State           `json:"state"`
	Position  domain.Position `json:"position"`
	LastRows  int             `json:"lastRows"`
	LastError string          `json:"lastError,omitempty"`
}

type dirState struct {
	state    State
	anchor   *anchor
	lastRows int
	lastErr  error
}

// Reconstructor replays one ledger type on one chain in both directions.
type Reconstructor struct {
	chain     *domain.Chain
	applier   Applier
	seeder    Seeder
	reader    ChainReader
	window    WindowSource
	stores    Stores
	pageLimit int
	logger    *zap.Logger

	mu     sync.Mutex
	seeded bool
	dirs   map[domain.Direction]*dirState
}

// NewReconstructor creates a reconstructor. Nothing is read until the first Run.
func NewReconstructor(chain *domain.Chain, applier Applier, seeder Seeder, reader ChainReader, window WindowSource, stores Stores, pageLimit int, logger *zap.Logger) *Reconstructor {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	return &Reconstructor{
		chain:     chain,
		applier:   applier,
		seeder:    seeder,
		reader:    reader,
		window:    window,
		stores:    stores,
		pageLimit: pageLimit,
		logger: logger.Named("ledger").With(
			zap.Int64("chain_id", chain.ID),
			zap.String("type", applier.Type())),
		dirs: map[domain.Direction]*dirState{
			domain.DirectionForward:  {state: StateNoAnchor},
			domain.DirectionBackward: {state: StateNoAnchor},
		},
	}
}

// ChainID returns the chain being replayed.
func (r *Reconstructor) ChainID() int64 {
	return r.chain.ID
}

// Type returns the ledger type.
func (r *Reconstructor) Type() string {
	return r.applier.Type()
}

// Status reports both directions, forward first.
func (r *Reconstructor) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, 2)
	for _, dir := range []domain.Direction{domain.DirectionForward, domain.DirectionBackward} {
		ds := r.dirs[dir]
		st := Status{
			Type:      r.applier.Type(),
			ChainID:   r.chain.ID,
			Direction: dir.String(),
			State:     ds.state,
			LastRows:  ds.lastRows,
		}
		if ds.anchor != nil {
			st.Position = ds.anchor.pos
		}
		if ds.lastErr != nil {
			st.LastError = ds.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// Run replays at most one page in dir and returns the number of rows appended.
// On error nothing from the page is persisted and the in-memory anchor is unchanged.
func (r *Reconstructor) Run(ctx context.Context, dir domain.Direction) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds := r.dirs[dir]

	rows, err := r.run(ctx, dir, ds)
	if errors.Is(err, ErrNoWindow) {
		r.logger.Debug("waiting for log ingestion", zap.String("direction", dir.String()))
		err = nil
	}
	ds.lastRows, ds.lastErr = rows, err
	return rows, err
}

func (r *Reconstructor) run(ctx context.Context, dir domain.Direction, ds *dirState) (int, error) {
	if err := r.ensureSeed(ctx); err != nil {
		return 0, err
	}
	if ds.anchor == nil {
		a, err := r.loadAnchor(ctx, dir)
		if err != nil {
			return 0, err
		}
		ds.anchor = a
		ds.state = StateAnchorLoaded
	}

	win, ok, err := r.window.Window(ctx, r.chain.ID)
	if err != nil {
		return 0, fmt.Errorf("read log window: %w", err)
	}
	if !ok {
		return 0, ErrNoWindow
	}

	var logs []*domain.LogRecord
	names := r.applier.EventNames()
	if dir == domain.DirectionForward {
		logs, err = r.stores.Logs.GetAfter(ctx, r.chain.ID, names, ds.anchor.pos, win.High, r.pageLimit)
	} else {
		logs, err = r.stores.Logs.GetBefore(ctx, r.chain.ID, names, ds.anchor.pos, win.Low, r.pageLimit)
	}
	if err != nil {
		return 0, fmt.Errorf("load logs: %w", err)
	}
	if len(logs) == 0 {
		ds.state = StateIdle
		return 0, nil
	}
	if err := validateOrder(logs, dir, ds.anchor.pos); err != nil {
		return 0, err
	}

	ds.state = StateReplaying
	next, rows, err := r.replay(ctx, dir, ds.anchor, logs)
	if err != nil {
		ds.state = StateAnchorLoaded
		reason := "error"
		if errors.Is(err, ErrNegativeValue) {
			reason = "negative"
		}
		observability.RecordLedgerAbort(r.applier.Type(), dir.String(), reason)
		r.logger.Error("ledger batch aborted",
			zap.String("direction", dir.String()),
			zap.Uint64("from_block", ds.anchor.pos.BlockNumber),
			zap.Error(err))
		return 0, err
	}

	// publish only after commit
	ds.anchor = next
	ds.state = StateIdle
	observability.RecordLedgerBatch(r.applier.Type(), dir.String(), len(rows))
	r.logger.Debug("ledger batch committed",
		zap.String("direction", dir.String()),
		zap.Int("logs", len(logs)),
		zap.Int("rows", len(rows)),
		zap.Uint64("block", next.pos.BlockNumber))
	return len(rows), nil
}

// replay applies logs to a copy of base and commits the rows and cursor in one transaction.
func (r *Reconstructor) replay(ctx context.Context, dir domain.Direction, base *anchor, logs []*domain.LogRecord) (*anchor, []*domain.DerivedStateRow, error) {
	blocks, err := r.blockTimes(ctx, logs)
	if err != nil {
		return nil, nil, err
	}

	running := base.clone()
	var rows []*domain.DerivedStateRow
	for _, rec := range logs {
		pos := rec.Position()
		deltas, err := r.applier.Apply(r.chain, rec)
		if err != nil {
			if !errors.Is(err, ErrUnsupported) {
				return nil, nil, fmt.Errorf("apply %s at %d/%d: %w", rec.Name, pos.BlockNumber, pos.LogIndex, err)
			}
			r.logger.Warn("skipping log",
				zap.String("name", rec.Name),
				zap.Uint64("block", pos.BlockNumber),
				zap.Int64("log_index", pos.LogIndex),
				zap.Error(err))
			observability.RecordSkip("ledger_unsupported")
			running.pos = pos
			continue
		}

		for _, d := range deltas {
			cur, ok := running.values[d.Symbol]
			if !ok {
				cur = new(big.Int)
			}
			var value, after *big.Int
			if dir == domain.DirectionForward {
				// rows hold the value after the log
				value = new(big.Int).Add(cur, d.Amount)
				after = value
			} else {
				value = cur
				after = new(big.Int).Sub(cur, d.Amount)
			}
			if value.Sign() < 0 || after.Sign() < 0 {
				return nil, nil, fmt.Errorf("%w: %s %s at %d/%d: %d %+d",
					ErrNegativeValue, r.applier.Type(), d.Symbol, pos.BlockNumber, pos.LogIndex, cur, d.Amount)
			}
			rows = append(rows, domain.NewDerivedStateRow(r.chain.ID, r.applier.Type(), d.Symbol, value, blocks[pos.BlockNumber], pos))
			running.values[d.Symbol] = after
		}
		running.pos = pos
	}

	raw, err := running.marshal()
	if err != nil {
		return nil, nil, err
	}
	err = r.stores.State.WithTx(ctx, func(tx storage.LedgerTx) error {
		if len(rows) > 0 {
			if err := tx.InsertDerivedState(ctx, rows); err != nil {
				return err
			}
		}
		return tx.SetMeta(ctx, metaKey(r.chain.ID, r.applier.Type(), dir.String()), raw)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("commit batch: %w", err)
	}
	return running, rows, nil
}

func (r *Reconstructor) blockTimes(ctx context.Context, logs []*domain.LogRecord) (map[uint64]int64, error) {
	var numbers []uint64
	seen := make(map[uint64]bool)
	for _, l := range logs {
		if !seen[l.BlockNumber] {
			seen[l.BlockNumber] = true
			numbers = append(numbers, l.BlockNumber)
		}
	}
	blocks, err := r.stores.Blocks.GetByNumbers(ctx, r.chain.ID, numbers)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	out := make(map[uint64]int64, len(numbers))
	for _, n := range numbers {
		b, ok := blocks[n]
		if !ok {
			return nil, fmt.Errorf("block %d not ingested: %w", n, storage.ErrNotFound)
		}
		out[n] = b.Timestamp
	}
	return out, nil
}

// ensureSeed writes the seed rows and both cursors once per chain and type.
func (r *Reconstructor) ensureSeed(ctx context.Context) error {
	if r.seeded {
		return nil
	}
	seedKey := metaKey(r.chain.ID, r.applier.Type(), "seed")
	if _, err := r.stores.Meta.Get(ctx, seedKey); err == nil {
		r.seeded = true
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read seed cursor: %w", err)
	}

	win, ok, err := r.window.Window(ctx, r.chain.ID)
	if err != nil {
		return fmt.Errorf("read log window: %w", err)
	}
	if !ok {
		return ErrNoWindow
	}

	values, err := r.seeder.Seed(ctx, r.chain, win.Origin)
	if err != nil {
		return fmt.Errorf("seed %s: %w", r.applier.Type(), err)
	}
	header, err := r.reader.HeaderByNumber(ctx, win.Origin)
	if err != nil {
		return fmt.Errorf("seed header %d: %w", win.Origin, err)
	}

	seed := &anchor{pos: domain.Position{BlockNumber: win.Origin, LogIndex: domain.SeedLogIndex}, values: values}
	rows := make([]*domain.DerivedStateRow, 0, len(values))
	for _, sym := range sortedSymbols(values) {
		if values[sym].Sign() < 0 {
			return fmt.Errorf("%w: seed %s", ErrNegativeValue, sym)
		}
		rows = append(rows, domain.NewDerivedStateRow(r.chain.ID, r.applier.Type(), sym, values[sym], header.Timestamp, seed.pos))
	}
	raw, err := seed.marshal()
	if err != nil {
		return err
	}

	err = r.stores.State.WithTx(ctx, func(tx storage.LedgerTx) error {
		if err := tx.InsertDerivedState(ctx, rows); err != nil {
			return err
		}
		for _, suffix := range []string{"seed", domain.DirectionForward.String(), domain.DirectionBackward.String()} {
			if err := tx.SetMeta(ctx, metaKey(r.chain.ID, r.applier.Type(), suffix), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist seed: %w", err)
	}

	r.seeded = true
	for _, ds := range r.dirs {
		ds.anchor = seed.clone()
		ds.state = StateAnchorLoaded
	}
	r.logger.Info("ledger seeded",
		zap.Uint64("block", win.Origin),
		zap.Int("keys", len(rows)))
	return nil
}

// loadAnchor restores a cold anchor. Forward values come from the latest rows,
// backward values from the snapshot stored with the cursor.
func (r *Reconstructor) loadAnchor(ctx context.Context, dir domain.Direction) (*anchor, error) {
	m, err := r.stores.Meta.Get(ctx, metaKey(r.chain.ID, r.applier.Type(), dir.String()))
	if err != nil {
		return nil, fmt.Errorf("read %s cursor: %w", dir, err)
	}
	a, err := unmarshalAnchor(m.Value)
	if err != nil {
		return nil, err
	}
	if dir == domain.DirectionBackward {
		return a, nil
	}

	latest, err := r.stores.State.Latest(ctx, r.chain.ID, r.applier.Type())
	if err != nil {
		return nil, fmt.Errorf("load latest rows: %w", err)
	}
	values := make(map[string]*big.Int, len(latest))
	for _, row := range latest {
		if row.Position().Compare(a.pos) > 0 {
			return nil, fmt.Errorf("row %s at %d/%d is past the forward cursor", row.Symbol, row.BlockNumber, row.LogIndex)
		}
		values[row.Symbol] = new(big.Int).Set(row.Value)
	}
	a.values = values
	return a, nil
}

func validateOrder(logs []*domain.LogRecord, dir domain.Direction, from domain.Position) error {
	prev := from
	for _, l := range logs {
		c := l.Position().Compare(prev)
		if (dir == domain.DirectionForward && c <= 0) || (dir == domain.DirectionBackward && c >= 0) {
			return fmt.Errorf("%w: %d/%d after %d/%d", ErrInvalidOrdering, l.BlockNumber, l.LogIndex, prev.BlockNumber, prev.LogIndex)
		}
		prev = l.Position()
	}
	return nil
}
