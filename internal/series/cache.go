package series

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
)

// DefaultCacheTTL is how long a range result stays valid.
const DefaultCacheTTL = 60 * time.Second

// RangeQuery is the cache key of one range lookup.
type RangeQuery struct {
	Key        domain.SeriesKey
	From       int64
	To         int64
	Inbound    bool
	Preference string // requested chain/source before fallback
}

// RangeCache memoizes range results for a short TTL.
type RangeCache struct {
	lru *expirable.LRU[RangeQuery, []domain.Candle]
}

// NewRangeCache creates a cache holding at most size results.
func NewRangeCache(size int, ttl time.Duration) *RangeCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RangeCache{lru: expirable.NewLRU[RangeQuery, []domain.Candle](size, nil, ttl)}
}

// Get returns the cached result for q, computing it with load on a miss.
// Both paths return a private copy.
func (c *RangeCache) Get(q RangeQuery, load func() []domain.Candle) []domain.Candle {
	if cached, ok := c.lru.Get(q); ok {
		observability.RecordCacheLookup(true)
		return clone(cached)
	}
	observability.RecordCacheLookup(false)
	fresh := load()
	c.lru.Add(q, clone(fresh))
	return fresh
}

// Len returns the number of live entries.
func (c *RangeCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *RangeCache) Purge() {
	c.lru.Purge()
}

func clone(c []domain.Candle) []domain.Candle {
	if c == nil {
		return nil
	}
	out := make([]domain.Candle, len(c))
	copy(out, c)
	return out
}
