package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// DerivedStateStore is an in-memory implementation of storage.DerivedStateStore.
// Meta writes issued inside WithTx land in the shared MetaStore on commit.
type DerivedStateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DerivedStateRow
	meta *MetaStore
}

// NewDerivedStateStore creates a new in-memory derived state store.
func NewDerivedStateStore(meta *MetaStore) *DerivedStateStore {
	return &DerivedStateStore{
		data: make(map[string]*domain.DerivedStateRow),
		meta: meta,
	}
}

func derivedKey(r *domain.DerivedStateRow) string {
	return fmt.Sprintf("%d|%s|%s|%d|%d", r.ChainID, r.Type, r.Symbol, r.BlockNumber, r.LogIndex)
}

func copyRow(r *domain.DerivedStateRow) *domain.DerivedStateRow {
	c := *r
	if r.Value != nil {
		c.Value = new(big.Int).Set(r.Value)
	}
	return &c
}

type memTx struct {
	rows []*domain.DerivedStateRow
	keys map[string]struct{}
	meta map[string]json.RawMessage
}

func (t *memTx) InsertDerivedState(_ context.Context, rows []*domain.DerivedStateRow) error {
	for _, r := range rows {
		if r == nil || r.Value == nil || r.Type == "" || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := derivedKey(r)
		if _, exists := t.keys[key]; exists {
			return storage.ErrDuplicateKey
		}
		t.keys[key] = struct{}{}
		t.rows = append(t.rows, copyRow(r))
	}
	return nil
}

func (t *memTx) SetMeta(_ context.Context, key string, value json.RawMessage) error {
	if key == "" || !json.Valid(value) {
		return storage.ErrInvalidInput
	}
	t.meta[key] = append(json.RawMessage(nil), value...)
	return nil
}

// WithTx stages writes and applies them only when fn succeeds.
func (s *DerivedStateStore) WithTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	tx := &memTx{
		keys: make(map[string]struct{}),
		meta: make(map[string]json.RawMessage),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range tx.keys {
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, r := range tx.rows {
		s.data[derivedKey(r)] = r
	}

	if s.meta != nil {
		s.meta.mu.Lock()
		for k, v := range tx.meta {
			s.meta.setLocked(k, v)
		}
		s.meta.mu.Unlock()
	}
	return nil
}

// Latest returns the newest row per symbol.
func (s *DerivedStateStore) Latest(_ context.Context, chainID int64, typ string) ([]*domain.DerivedStateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]*domain.DerivedStateRow)
	for _, r := range s.data {
		if r.ChainID != chainID || r.Type != typ {
			continue
		}
		if cur, ok := latest[r.Symbol]; !ok || r.Position().Compare(cur.Position()) > 0 {
			latest[r.Symbol] = r
		}
	}

	result := make([]*domain.DerivedStateRow, 0, len(latest))
	for _, r := range latest {
		result = append(result, copyRow(r))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// GetByTimeRange returns rows for a symbol within [start, end].
func (s *DerivedStateStore) GetByTimeRange(_ context.Context, chainID int64, typ, symbol string, start, end int64) ([]*domain.DerivedStateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DerivedStateRow
	for _, r := range s.data {
		if r.ChainID == chainID && r.Type == typ && r.Symbol == symbol && r.Timestamp >= start && r.Timestamp <= end {
			result = append(result, copyRow(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Position().Compare(result[j].Position()) < 0
	})
	return result, nil
}

var _ storage.DerivedStateStore = (*DerivedStateStore)(nil)
