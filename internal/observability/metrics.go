// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Upstream
	UpstreamLatency *prometheus.HistogramVec
	UpstreamRetries *prometheus.CounterVec
	UpstreamErrors  *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec

	// Series
	SeriesMerged    *prometheus.CounterVec
	SeriesSkipped   *prometheus.CounterVec
	SeriesLength    *prometheus.GaugeVec
	RangeCacheHits  prometheus.Counter
	RangeCacheMiss  prometheus.Counter
	LoaderBackoffs  *prometheus.CounterVec
	FastTicksFolded prometheus.Counter

	// Ledger
	LedgerRows   *prometheus.CounterVec
	LedgerAborts *prometheus.CounterVec
	LogsIngested *prometheus.CounterVec
	LogHighBlock *prometheus.GaugeVec

	// Scheduler
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dex_analytics"
	}
	f := promauto.With(reg)

	return &Metrics{
		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_latency_seconds",
			Help:      "Upstream call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "method"}),
		UpstreamRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Total number of retried upstream calls",
		}, []string{"operation"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Total number of upstream calls that failed after retries",
		}, []string{"operation"}),
		RecordsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "records_dropped_total",
			Help:      "Malformed upstream records dropped",
		}, []string{"source"}),

		SeriesMerged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "candles_merged_total",
			Help:      "Candles merged into series by direction and outcome",
		}, []string{"direction", "outcome"}),
		SeriesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "candles_skipped_total",
			Help:      "Candles rejected by ordering or acceptance rules",
		}, []string{"reason"}),
		SeriesLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "length",
			Help:      "Number of candles held per series",
		}, []string{"chain", "period", "source"}),
		RangeCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "range_cache_hits_total",
			Help:      "Range cache hits",
		}),
		RangeCacheMiss: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "range_cache_misses_total",
			Help:      "Range cache misses",
		}),
		LoaderBackoffs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "loader_backoffs_total",
			Help:      "Price loader long backoffs after consecutive failures",
		}, []string{"loader"}),
		FastTicksFolded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fast_ticks_folded_total",
			Help:      "Fast price ticks folded into open candles",
		}),

		LedgerRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rows_written_total",
			Help:      "Derived state rows committed",
		}, []string{"type", "direction"}),
		LedgerAborts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "batch_aborts_total",
			Help:      "Ledger batches rolled back",
		}, []string{"type", "direction", "reason"}),
		LogsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "logs_ingested_total",
			Help:      "Event logs inserted",
		}, []string{"chain"}),
		LogHighBlock: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "ingested_high_block",
			Help:      "Highest fully ingested block",
		}, []string{"chain"}),

		TaskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Scheduler task runs by status",
		}, []string{"task", "status"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Scheduler task duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"task"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordUpstreamCall records upstream latency.
func RecordUpstreamCall(source, method string, seconds float64) {
	DefaultMetrics.UpstreamLatency.WithLabelValues(source, method).Observe(seconds)
}

// RecordRetry counts one retried attempt.
func RecordRetry(operation string) {
	DefaultMetrics.UpstreamRetries.WithLabelValues(operation).Inc()
}

// RecordUpstreamFailure counts an exhausted retry loop.
func RecordUpstreamFailure(operation string) {
	DefaultMetrics.UpstreamErrors.WithLabelValues(operation).Inc()
}

// RecordDropped counts dropped malformed records.
func RecordDropped(source string, n int) {
	DefaultMetrics.RecordsDropped.WithLabelValues(source).Add(float64(n))
}

// RecordMerge records the outcome of one series merge.
func RecordMerge(direction string, appended, replaced, skipped int) {
	DefaultMetrics.SeriesMerged.WithLabelValues(direction, "appended").Add(float64(appended))
	DefaultMetrics.SeriesMerged.WithLabelValues(direction, "replaced").Add(float64(replaced))
	DefaultMetrics.SeriesMerged.WithLabelValues(direction, "skipped").Add(float64(skipped))
}

// RecordSkip counts one rejected candle.
func RecordSkip(reason string) {
	DefaultMetrics.SeriesSkipped.WithLabelValues(reason).Inc()
}

// UpdateSeriesLength sets the length gauge for a series.
func UpdateSeriesLength(chain, period, source string, n int) {
	DefaultMetrics.SeriesLength.WithLabelValues(chain, period, source).Set(float64(n))
}

// RecordCacheLookup counts a range cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		DefaultMetrics.RangeCacheHits.Inc()
		return
	}
	DefaultMetrics.RangeCacheMiss.Inc()
}

// RecordLoaderBackoff counts a long loader backoff.
func RecordLoaderBackoff(loader string) {
	DefaultMetrics.LoaderBackoffs.WithLabelValues(loader).Inc()
}

// RecordTickFolded counts a streamed tick that changed at least one open candle.
func RecordTickFolded() {
	DefaultMetrics.FastTicksFolded.Inc()
}

// RecordLedgerBatch records committed rows.
func RecordLedgerBatch(typ, direction string, rows int) {
	DefaultMetrics.LedgerRows.WithLabelValues(typ, direction).Add(float64(rows))
}

// RecordLedgerAbort records a rolled back batch.
func RecordLedgerAbort(typ, direction, reason string) {
	DefaultMetrics.LedgerAborts.WithLabelValues(typ, direction, reason).Inc()
}

// RecordLogsIngested records inserted logs and the new high watermark.
func RecordLogsIngested(chain string, n int, high uint64) {
	DefaultMetrics.LogsIngested.WithLabelValues(chain).Add(float64(n))
	DefaultMetrics.LogHighBlock.WithLabelValues(chain).Set(float64(high))
}

// RecordTaskRun records one scheduler task execution.
func RecordTaskRun(task, status string, seconds float64) {
	DefaultMetrics.TaskRuns.WithLabelValues(task, status).Inc()
	DefaultMetrics.TaskDuration.WithLabelValues(task).Observe(seconds)
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, code string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, code).Inc()
	DefaultMetrics.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
