package memory

import (
	"context"
	"fmt"
	"sync"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Transaction
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{data: make(map[string]*domain.Transaction)}
}

func txKey(chainID int64, hash string) string {
	return fmt.Sprintf("%d|%s", chainID, hash)
}

// InsertIgnore adds transactions, skipping existing hashes.
func (s *TransactionStore) InsertIgnore(_ context.Context, txs []*domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		if tx == nil || tx.Hash == "" {
			return storage.ErrInvalidInput
		}
		key := txKey(tx.ChainID, tx.Hash)
		if _, exists := s.data[key]; exists {
			continue
		}
		c := *tx
		s.data[key] = &c
	}
	return nil
}

// GetByHash retrieves a transaction by hash.
func (s *TransactionStore) GetByHash(_ context.Context, chainID int64, hash string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.data[txKey(chainID, hash)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *tx
	return &c, nil
}

var _ storage.TransactionStore = (*TransactionStore)(nil)
