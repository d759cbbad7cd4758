package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	OpsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basin_ops_written_total",
			Help: "Total number of bucket ops written by op kind",
		},
		[]string{"op"},
	)

	EvaluationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basin_evaluation_errors_total",
			Help: "Total number of source rows that failed sync-rule evaluation",
		},
	)

	BatchFlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basin_batch_flushes_total",
			Help: "Total number of batch flushes",
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "basin_flush_duration_seconds",
			Help:    "Time taken to persist a batch flush in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushedOps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "basin_flushed_ops",
			Help:    "Number of ops persisted per flush",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
		},
	)

	// Read metrics
	ReadBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basin_read_batches_total",
			Help: "Total number of bucket data batches served to clients",
		},
	)

	ParameterQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basin_parameter_queries_total",
			Help: "Total number of parameter-set lookups",
		},
	)

	// Checksum cache metrics
	ChecksumCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basin_checksum_cache_hits_total",
			Help: "Checksum cache hits (partial fold from a cached checkpoint)",
		},
	)

	ChecksumCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basin_checksum_cache_misses_total",
			Help: "Checksum cache misses (full range computation)",
		},
	)

	// Compaction metrics
	CompactionOpsRewritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basin_compaction_ops_rewritten_total",
			Help: "Total number of ops rewritten by the compactor, by rewrite kind",
		},
		[]string{"kind"},
	)

	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "basin_compaction_duration_seconds",
			Help:    "Time taken for a compaction pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactionPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basin_compaction_passes_total",
			Help: "Total number of compaction passes completed",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(OpsWrittenTotal)
	prometheus.MustRegister(EvaluationErrorsTotal)
	prometheus.MustRegister(BatchFlushesTotal)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(FlushedOps)
	prometheus.MustRegister(ReadBatchesTotal)
	prometheus.MustRegister(ParameterQueriesTotal)
	prometheus.MustRegister(ChecksumCacheHits)
	prometheus.MustRegister(ChecksumCacheMisses)
	prometheus.MustRegister(CompactionOpsRewritten)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactionPassesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
