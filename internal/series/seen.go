package series

import (
	"sort"

	"dex-analytics/internal/domain"
)

// SeenSet remembers upstream record ids for one ingestion direction.
// Ids whose timestamp falls more than window seconds behind the frontier are evicted,
// and at most limit ids are kept; past the limit the ids farthest from the frontier go first.
type SeenSet struct {
	dir      domain.Direction
	window   int64
	limit    int
	ids      map[string]int64
	frontier int64
	started  bool
}

// NewSeenSet creates a set. The frontier is the max timestamp seen going forward
// and the min going backward.
func NewSeenSet(dir domain.Direction, window int64, limit int) *SeenSet {
	return &SeenSet{dir: dir, window: window, limit: limit, ids: make(map[string]int64)}
}

// Add records id and reports whether it was new.
func (s *SeenSet) Add(id string, t int64) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = t
	s.advance(t)
	if s.limit > 0 && len(s.ids) > s.limit {
		s.trim()
	}
	return true
}

// Has reports whether id is remembered.
func (s *SeenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of remembered ids.
func (s *SeenSet) Len() int {
	return len(s.ids)
}

func (s *SeenSet) distance(t int64) int64 {
	if s.dir == domain.DirectionBackward {
		return t - s.frontier
	}
	return s.frontier - t
}

func (s *SeenSet) advance(t int64) {
	moved := false
	switch {
	case !s.started:
		s.frontier, s.started = t, true
	case s.dir == domain.DirectionBackward && t < s.frontier:
		s.frontier, moved = t, true
	case s.dir != domain.DirectionBackward && t > s.frontier:
		s.frontier, moved = t, true
	}
	if !moved || s.window <= 0 {
		return
	}
	for id, ts := range s.ids {
		if s.distance(ts) > s.window {
			delete(s.ids, id)
		}
	}
}

// trim evicts down to 90% of the limit.
func (s *SeenSet) trim() {
	type entry struct {
		id string
		d  int64
	}
	entries := make([]entry, 0, len(s.ids))
	for id, ts := range s.ids {
		entries = append(entries, entry{id, s.distance(ts)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].d > entries[j].d })

	target := s.limit * 9 / 10
	for _, e := range entries[:len(entries)-target] {
		delete(s.ids, e.id)
	}
}
