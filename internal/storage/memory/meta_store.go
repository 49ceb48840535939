package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// MetaStore is an in-memory implementation of storage.MetaStore.
type MetaStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Meta
	now  func() time.Time
}

// NewMetaStore creates a new in-memory meta store.
func NewMetaStore() *MetaStore {
	return &MetaStore{
		data: make(map[string]*domain.Meta),
		now:  time.Now,
	}
}

// Get returns the entry for key.
func (s *MetaStore) Get(_ context.Context, key string) (*domain.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &domain.Meta{
		Key:       m.Key,
		Value:     append(json.RawMessage(nil), m.Value...),
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// Set upserts the value for key.
func (s *MetaStore) Set(_ context.Context, key string, value json.RawMessage) error {
	if key == "" || !json.Valid(value) {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(key, value)
	return nil
}

func (s *MetaStore) setLocked(key string, value json.RawMessage) {
	s.data[key] = &domain.Meta{
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		UpdatedAt: s.now().UTC(),
	}
}

var _ storage.MetaStore = (*MetaStore)(nil)
