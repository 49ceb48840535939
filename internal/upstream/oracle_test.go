package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/idhash"
)

func TestOracleFeed_FetchRounds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rounds", r.URL.Path)
		assert.Equal(t, "ETH", r.URL.Query().Get("symbol"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		json.NewEncoder(w).Encode(map[string]any{
			"rounds": []map[string]any{
				{"id": "r2", "answer": "200000000000", "updatedAt": 1700000060},
				{"id": "r1", "answer": "199950000000", "updatedAt": "1700000000"},
				{"id": "bad", "answer": "-5", "updatedAt": 1700000030},
			},
		})
	}))
	defer srv.Close()

	feed := NewOracleFeed(srv.URL, WithRetry(fastRetry(2)))
	points, err := feed.FetchRounds(context.Background(), RoundsRequest{Symbol: "ETH", Token: "0xAbC", From: 1, Desc: true})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, domain.PeriodRaw, points[0].Period)
	assert.Equal(t, "0xabc", points[0].Token)
	assert.InDelta(t, 2000.0, points[0].Candle().C, 1e-9)
	assert.Equal(t, int64(1700000000), points[1].Timestamp)
}

func TestOracleFeed_MissingIDIsDerived(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"rounds": []map[string]any{{"answer": "100000000", "updatedAt": 1700000000}},
		})
	}))
	defer srv.Close()

	feed := NewOracleFeed(srv.URL, WithRetry(fastRetry(1)))
	points, err := feed.FetchRounds(context.Background(), RoundsRequest{Symbol: "ETH", Token: "0xabc"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, idhash.ComputePricePointID("0xabc", domain.PeriodRaw, domain.SourceChainlink, 1700000000), points[0].ID)
}

func TestOracleFeed_MalformedBodyIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"rounds": [`))
	}))
	defer srv.Close()

	feed := NewOracleFeed(srv.URL, WithRetry(fastRetry(4)))
	_, err := feed.FetchRounds(context.Background(), RoundsRequest{Symbol: "ETH", Token: "0xabc"})
	require.ErrorIs(t, err, ErrMalformed)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), hits.Load())
}
