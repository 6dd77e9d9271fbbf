// Package metrics exposes the Prometheus collectors for placement,
// erasure coding, the WAL, the metadata cache, the block write-back
// pipeline, and scatter-gather listing. Every collector is registered at
// package init so any binary importing this package gets the full set on
// its /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Placement metrics
	PlacementRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectio_placement_requests_total",
			Help: "Total number of placement computations by scheme",
		},
		[]string{"scheme"},
	)

	PlacementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectio_placement_duration_seconds",
			Help:    "Time taken to compute a placement decision in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	PlacementNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "objectio_placement_nodes_total",
			Help: "Total number of nodes known to the placement topology by status",
		},
		[]string{"status"},
	)

	// Erasure coding metrics
	EncodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectio_erasure_encode_duration_seconds",
			Help:    "Time taken to erasure-encode a stripe in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	DecodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectio_erasure_decode_duration_seconds",
			Help:    "Time taken to erasure-decode a stripe in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	ReconstructionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectio_erasure_reconstructions_total",
			Help: "Total number of shard reconstructions by recovery level",
		},
		[]string{"level"},
	)

	ShardsLostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_erasure_shards_lost_total",
			Help: "Total number of shards that could not be reconstructed",
		},
	)

	// WAL / metadata store metrics
	WALAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_wal_appends_total",
			Help: "Total number of WAL records appended",
		},
	)

	WALAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "objectio_wal_append_duration_seconds",
			Help:    "Time taken to append and fsync a WAL record in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALReplayRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_wal_replay_records_total",
			Help: "Total number of WAL records replayed at startup",
		},
	)

	WALCheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_wal_checkpoints_total",
			Help: "Total number of WAL checkpoints taken",
		},
	)

	MetaCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_meta_cache_hits_total",
			Help: "Total number of metadata ARC cache hits",
		},
	)

	MetaCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_meta_cache_misses_total",
			Help: "Total number of metadata ARC cache misses",
		},
	)

	MetaCompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "objectio_meta_compaction_duration_seconds",
			Help:    "Time taken to compact the metadata store in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Block write-back pipeline metrics
	BlockWriteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "objectio_block_write_latency_seconds",
			Help:    "Write cache acknowledge latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BlockFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "objectio_block_flush_duration_seconds",
			Help:    "Time taken to flush a dirty chunk to erasure-coded storage in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BlockDirtyChunksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "objectio_block_dirty_chunks_total",
			Help: "Current number of dirty chunks awaiting flush",
		},
	)

	BlockQoSThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectio_block_qos_throttled_total",
			Help: "Total number of requests delayed by the QoS token bucket by volume",
		},
		[]string{"volume_id"},
	)

	BlockJournalReplayRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_block_journal_replay_records_total",
			Help: "Total number of journal records replayed at startup",
		},
	)

	// Scatter-gather listing metrics
	ScatterRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_scatter_requests_total",
			Help: "Total number of scatter-gather list requests",
		},
	)

	ScatterShardErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectio_scatter_shard_errors_total",
			Help: "Total number of per-shard listing errors by reason",
		},
		[]string{"reason"},
	)

	ScatterMergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "objectio_scatter_merge_duration_seconds",
			Help:    "Time taken to merge shard listing results in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScatterTokensRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectio_scatter_tokens_rejected_total",
			Help: "Total number of continuation tokens rejected for a topology version mismatch or bad signature",
		},
	)

	// Metadata service (etcd-style coordination) metrics
	OsdRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectio_osd_registrations_total",
			Help: "Total number of OSD registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	MultipartUploadsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "objectio_multipart_uploads_active",
			Help: "Current number of in-progress multipart uploads",
		},
	)

	IcebergCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectio_iceberg_commits_total",
			Help: "Total number of Iceberg table commit attempts by outcome",
		},
		[]string{"outcome"},
	)

	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectio_rpc_requests_total",
			Help: "Total number of RPC requests by service, method and status",
		},
		[]string{"service", "method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectio_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds by service and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)
)

func init() {
	prometheus.MustRegister(PlacementRequestsTotal)
	prometheus.MustRegister(PlacementDuration)
	prometheus.MustRegister(PlacementNodesTotal)

	prometheus.MustRegister(EncodeDuration)
	prometheus.MustRegister(DecodeDuration)
	prometheus.MustRegister(ReconstructionsTotal)
	prometheus.MustRegister(ShardsLostTotal)

	prometheus.MustRegister(WALAppendsTotal)
	prometheus.MustRegister(WALAppendDuration)
	prometheus.MustRegister(WALReplayRecordsTotal)
	prometheus.MustRegister(WALCheckpointsTotal)
	prometheus.MustRegister(MetaCacheHitsTotal)
	prometheus.MustRegister(MetaCacheMissesTotal)
	prometheus.MustRegister(MetaCompactionDuration)

	prometheus.MustRegister(BlockWriteLatency)
	prometheus.MustRegister(BlockFlushDuration)
	prometheus.MustRegister(BlockDirtyChunksTotal)
	prometheus.MustRegister(BlockQoSThrottledTotal)
	prometheus.MustRegister(BlockJournalReplayRecordsTotal)

	prometheus.MustRegister(ScatterRequestsTotal)
	prometheus.MustRegister(ScatterShardErrorsTotal)
	prometheus.MustRegister(ScatterMergeDuration)
	prometheus.MustRegister(ScatterTokensRejectedTotal)

	prometheus.MustRegister(OsdRegistrationsTotal)
	prometheus.MustRegister(MultipartUploadsActive)
	prometheus.MustRegister(IcebergCommitsTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
