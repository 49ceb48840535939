package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"dex-analytics/internal/domain"
)

// cursor is the persisted form of an anchor.
type cursor struct {
	domain.Position
	Values map[string]string `json:"values"`
}

// anchor is the in-memory replay base of one direction.
type anchor struct {
	pos    domain.Position
	values map[string]*big.Int
}

func (a *anchor) clone() *anchor {
	c := &anchor{pos: a.pos, values: make(map[string]*big.Int, len(a.values))}
	for k, v := range a.values {
		c.values[k] = new(big.Int).Set(v)
	}
	return c
}

func (a *anchor) marshal() (json.RawMessage, error) {
	c := cursor{Position: a.pos, Values: make(map[string]string, len(a.values))}
	for k, v := range a.values {
		c.Values[k] = v.String()
	}
	return json.Marshal(c)
}

func unmarshalAnchor(raw json.RawMessage) (*anchor, error) {
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	a := &anchor{pos: c.Position, values: make(map[string]*big.Int, len(c.Values))}
	for k, s := range c.Values {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("decode cursor: value %s=%q", k, s)
		}
		a.values[k] = v
	}
	return a, nil
}

func sortedSymbols(values map[string]*big.Int) []string {
	out := make([]string, 0, len(values))
	for k := range values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func metaKey(chainID int64, typ, suffix string) string {
	return fmt.Sprintf("ledger:%d:%s:%s", chainID, typ, suffix)
}
