package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.TaskRuns.WithLabelValues("logs", "ok").Inc()
	m.TaskRuns.WithLabelValues("logs", "ok").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TaskRuns.WithLabelValues("logs", "ok")))
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.RangeCacheHits)
	RecordCacheLookup(true)
	assert.Equal(t, before+1, testutil.ToFloat64(DefaultMetrics.RangeCacheHits))

	RecordMerge("forward", 3, 1, 0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(DefaultMetrics.SeriesMerged.WithLabelValues("forward", "appended")), 3.0)
}
