package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/storage"
)

func TestCandleArchive_WriteAndLoad(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	archive := NewCandleArchive(conn)
	key := domain.SeriesKey{ChainID: 42161, Token: "0xabc", Period: domain.Period1h, Source: domain.SourceFast}

	err := archive.Write(ctx, key, []domain.Candle{
		{T: 3600, O: 1, H: 2, L: 1, C: 2},
		{T: 7200, O: 2, H: 3, L: 2, C: 3},
	})
	require.NoError(t, err)

	candles, err := archive.Load(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(3600), candles[0].T)
	assert.Equal(t, 3.0, candles[1].C)

	later, err := archive.Load(ctx, key, 7200)
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

func TestCandleArchive_RevisionReplacesOpenCandle(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	archive := NewCandleArchive(conn)
	key := domain.SeriesKey{ChainID: 42161, Token: "0xabc", Period: domain.Period5m, Source: domain.SourceFast}

	require.NoError(t, archive.Write(ctx, key, []domain.Candle{{T: 300, O: 1, H: 1, L: 1, C: 1}}))
	require.NoError(t, archive.Write(ctx, key, []domain.Candle{{T: 300, O: 1, H: 4, L: 1, C: 4}}))

	candles, err := archive.Load(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 4.0, candles[0].C)
}

func TestCandleArchive_KeysAreIsolated(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	archive := NewCandleArchive(conn)
	fast := domain.SeriesKey{ChainID: 42161, Token: "0xabc", Period: domain.Period5m, Source: domain.SourceFast}
	other := fast
	other.ChainID = 43114

	require.NoError(t, archive.Write(ctx, fast, []domain.Candle{{T: 300, C: 1}}))

	candles, err := archive.Load(ctx, other, 0)
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestCandleArchive_InvalidKey(t *testing.T) {
	archive := NewCandleArchive(nil)
	err := archive.Write(context.Background(), domain.SeriesKey{}, []domain.Candle{{T: 1}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestParseDSN(t *testing.T) {
	opts, err := parseDSN("clickhouse://user:pw@localhost/stats")
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9000"}, opts.Addr)
	assert.Equal(t, "user", opts.Auth.Username)
	assert.Equal(t, "pw", opts.Auth.Password)
	assert.Equal(t, "stats", opts.Auth.Database)

	_, err = parseDSN("http://localhost")
	assert.Error(t, err)
}
