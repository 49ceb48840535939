package memory

import (
	"context"
	"fmt"
	"sync"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// BlockStore is an in-memory implementation of storage.BlockStore.
type BlockStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Block
}

// NewBlockStore creates a new in-memory block store.
func NewBlockStore() *BlockStore {
	return &BlockStore{data: make(map[string]*domain.Block)}
}

func blockKey(chainID int64, number uint64) string {
	return fmt.Sprintf("%d|%d", chainID, number)
}

// InsertIgnore adds blocks, skipping existing numbers.
func (s *BlockStore) InsertIgnore(_ context.Context, blocks []*domain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range blocks {
		if b == nil || b.Hash == "" {
			return storage.ErrInvalidInput
		}
		key := blockKey(b.ChainID, b.Number)
		if _, exists := s.data[key]; exists {
			continue
		}
		c := *b
		s.data[key] = &c
	}
	return nil
}

// GetByNumbers returns the known blocks among numbers.
func (s *BlockStore) GetByNumbers(_ context.Context, chainID int64, numbers []uint64) (map[uint64]*domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[uint64]*domain.Block, len(numbers))
	for _, n := range numbers {
		if b, ok := s.data[blockKey(chainID, n)]; ok {
			c := *b
			result[n] = &c
		}
	}
	return result, nil
}

var _ storage.BlockStore = (*BlockStore)(nil)
