package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// MetaStore implements storage.MetaStore using PostgreSQL.
type MetaStore struct {
	pool *Pool
}

// NewMetaStore creates a new MetaStore.
func NewMetaStore(pool *Pool) *MetaStore {
	return &MetaStore{pool: pool}
}

var _ storage.MetaStore = (*MetaStore)(nil)

// Get returns the entry for key.
func (s *MetaStore) Get(ctx context.Context, key string) (*domain.Meta, error) {
	var m domain.Meta
	err := s.pool.QueryRow(ctx, `
		SELECT key, value, updated_at FROM meta WHERE key = $1
	`, key).Scan(&m.Key, &m.Value, &m.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get meta: %w", err)
	}
	return &m, nil
}

// Set upserts the value for key.
func (s *MetaStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	return upsertMeta(ctx, s.pool, key, value)
}

func upsertMeta(ctx context.Context, q execer, key string, value json.RawMessage) error {
	if key == "" || !json.Valid(value) {
		return storage.ErrInvalidInput
	}
	_, err := q.Exec(ctx, `
		INSERT INTO meta (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = NOW()
	`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("upsert meta %s: %w", key, err)
	}
	return nil
}
