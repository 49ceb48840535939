package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
	"dex-analytics/internal/series"
	"dex-analytics/internal/upstream"
)

func TestTickFolder(t *testing.T) {
	store := series.NewStore(series.Options{}, zap.NewNop())
	k5 := domain.SeriesKey{ChainID: 42161, Token: "0xe1", Period: domain.Period5m, Source: domain.SourceFast}
	k1h := k5
	k1h.Period = domain.Period1h
	_, err := store.MergeAppend(k5, []domain.Candle{{T: 3600, O: 10, H: 10, L: 10, C: 10}})
	require.NoError(t, err)
	_, err = store.MergeAppend(k1h, []domain.Candle{{T: 3600, O: 10, H: 10, L: 10, C: 10}})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	folder := NewTickFolder(store, []domain.Period{domain.Period5m, domain.Period1h, domain.Period1d}, notifier, zap.NewNop())

	ticks := make(chan upstream.Tick, 2)
	ticks <- upstream.Tick{ChainID: 42161, Token: "0xe1", Price: 12, T: 3700}
	ticks <- upstream.Tick{ChainID: 42161, Token: "0xe1", Price: 11, T: 3950}
	close(ticks)

	folded := testutil.ToFloat64(observability.DefaultMetrics.FastTicksFolded)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, folder.Run(ctx, ticks))

	assert.Equal(t, []domain.Candle{
		{T: 3600, O: 10, H: 12, L: 10, C: 12},
		{T: 3900, O: 12, H: 12, L: 11, C: 11},
	}, store.Snapshot(k5))
	assert.Equal(t, []domain.Candle{{T: 3600, O: 10, H: 12, L: 10, C: 11}}, store.Snapshot(k1h))
	assert.Len(t, notifier.tails, 4)
	assert.Equal(t, folded+2, testutil.ToFloat64(observability.DefaultMetrics.FastTicksFolded))

	// a tick for a token with no series changes nothing and is not counted
	assert.Zero(t, folder.Fold(ctx, upstream.Tick{ChainID: 42161, Token: "0xff", Price: 1, T: 4000}))
	assert.Equal(t, folded+2, testutil.ToFloat64(observability.DefaultMetrics.FastTicksFolded))
}
