package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
)

const e30 = "000000000000000000000000000000"

// candleServer serves total candles, ascending from t=300, paged by first/skip.
func candleServer(t *testing.T, total int, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req graphRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		first := int(req.Variables["first"].(float64))
		skip := int(req.Variables["skip"].(float64))

		var candles []map[string]any
		for i := skip; i < skip+first && i < total; i++ {
			c := map[string]any{
				"id":        fmt.Sprintf("c%d", i),
				"token":     "0xABC",
				"period":    "5m",
				"timestamp": 300 * (i + 1),
				"open":      "1" + e30,
				"high":      "3" + e30,
				"low":       "1" + e30,
				"close":     "2" + e30,
			}
			if i == 2 {
				c["close"] = "" // malformed
			}
			candles = append(candles, c)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"priceCandles": candles}})
	}))
	return srv, &calls
}

func TestPriceCandleSource_FetchPage(t *testing.T) {
	srv, _ := candleServer(t, 5, 0)
	defer srv.Close()

	src := NewPriceCandleSource(NewGraphClient(srv.URL, WithRetry(fastRetry(3))), 10, 1, zap.NewNop())
	defer src.Close()

	points, err := src.FetchPage(context.Background(), PageRequest{Token: "0xabc", Period: domain.Period5m})
	require.NoError(t, err)
	require.Len(t, points, 4, "malformed record dropped")
	assert.Equal(t, "0xabc", points[0].Token)
	assert.Equal(t, 2.0, points[0].Candle().C)
	assert.Equal(t, 3.0, points[0].Candle().H)
}

func TestPriceCandleSource_FetchAllShards(t *testing.T) {
	srv, _ := candleServer(t, 23, 0)
	defer srv.Close()

	src := NewPriceCandleSource(NewGraphClient(srv.URL, WithRetry(fastRetry(3))), 5, 3, zap.NewNop())
	defer src.Close()

	points, err := src.FetchAll(context.Background(), PageRequest{Token: "0xabc", Period: domain.Period5m}, StopCondition{})
	require.NoError(t, err)
	assert.Len(t, points, 22)
	for i := 1; i < len(points); i++ {
		assert.Less(t, points[i-1].Timestamp, points[i].Timestamp, "merged in offset order")
	}
}

func TestPriceCandleSource_FetchAllStopsOnRecordBound(t *testing.T) {
	srv, _ := candleServer(t, 1000, 0)
	defer srv.Close()

	src := NewPriceCandleSource(NewGraphClient(srv.URL, WithRetry(fastRetry(3))), 5, 2, zap.NewNop())
	defer src.Close()

	points, err := src.FetchAll(context.Background(), PageRequest{Token: "0xabc", Period: domain.Period5m}, StopCondition{MaxRecords: 12})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(points), 12)
	assert.Less(t, len(points), 30)
}

func TestGraphClient_RetriesServerErrors(t *testing.T) {
	srv, calls := candleServer(t, 1, 2)
	defer srv.Close()

	src := NewPriceCandleSource(NewGraphClient(srv.URL, WithRetry(fastRetry(4))), 10, 1, zap.NewNop())
	defer src.Close()

	points, err := src.FetchPage(context.Background(), PageRequest{Token: "0xabc", Period: domain.Period5m})
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGraphClient_GraphQLErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"errors": []map[string]string{{"message": "bad field"}}})
	}))
	defer srv.Close()

	err := NewGraphClient(srv.URL, WithRetry(fastRetry(4))).Query(context.Background(), "{x}", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad field")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGraphClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewGraphClient(srv.URL, WithRetry(fastRetry(4))).Query(context.Background(), "{x}", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
