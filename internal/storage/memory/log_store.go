package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

// LogStore is an in-memory implementation of storage.LogStore.
type LogStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LogRecord
}

// NewLogStore creates a new in-memory log store.
func NewLogStore() *LogStore {
	return &LogStore{
		data: make(map[string]*domain.LogRecord),
	}
}

func logKey(l *domain.LogRecord) string {
	return fmt.Sprintf("%d|%d|%s|%d", l.ChainID, l.BlockNumber, l.TxHash, l.LogIndex)
}

func copyLog(l *domain.LogRecord) *domain.LogRecord {
	c := *l
	c.Args = append([]string(nil), l.Args...)
	return &c
}

// InsertIgnore adds logs, skipping existing keys.
func (s *LogStore) InsertIgnore(_ context.Context, logs []*domain.LogRecord) (int, error) {
	for _, l := range logs {
		if l == nil || l.TxHash == "" || l.Name == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, l := range logs {
		key := logKey(l)
		if _, exists := s.data[key]; exists {
			continue
		}
		s.data[key] = copyLog(l)
		inserted++
	}
	return inserted, nil
}

// GetAfter returns logs strictly after pos, ascending.
func (s *LogStore) GetAfter(_ context.Context, chainID int64, names []string, pos domain.Position, maxBlock uint64, limit int) ([]*domain.LogRecord, error) {
	result := s.filter(chainID, names, func(l *domain.LogRecord) bool {
		return l.BlockNumber <= maxBlock && l.Position().Compare(pos) > 0
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Position().Compare(result[j].Position()) < 0
	})
	return truncate(result, limit), nil
}

// GetBefore returns logs strictly before pos, descending.
func (s *LogStore) GetBefore(_ context.Context, chainID int64, names []string, pos domain.Position, minBlock uint64, limit int) ([]*domain.LogRecord, error) {
	result := s.filter(chainID, names, func(l *domain.LogRecord) bool {
		return l.BlockNumber >= minBlock && l.Position().Compare(pos) < 0
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Position().Compare(result[j].Position()) > 0
	})
	return truncate(result, limit), nil
}

func (s *LogStore) filter(chainID int64, names []string, keep func(*domain.LogRecord) bool) []*domain.LogRecord {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LogRecord
	for _, l := range s.data {
		if l.ChainID != chainID {
			continue
		}
		if _, ok := wanted[l.Name]; len(wanted) > 0 && !ok {
			continue
		}
		if keep(l) {
			result = append(result, copyLog(l))
		}
	}
	return result
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

var _ storage.LogStore = (*LogStore)(nil)
