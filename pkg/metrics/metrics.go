package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "indexer"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	// Subsystems
	RPC     = "rpc"
	Logs    = "logs"
	Fetch   = "fetch"
	Storage = "storage"
)

// Labels holds constant labels applied to all metrics.
// These distinguish metrics from multiple indexer instances.
type Labels struct {
	ChainID      uint64 // EVM chain ID (e.g., 1 for mainnet, 11155111 for Sepolia)
	TokenAddress string // token contract filter, empty when indexing all tokens
	Environment  string // deployment environment (e.g., "production", "staging")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.ChainID != 0 {
		labels["chain_id"] = strconv.FormatUint(l.ChainID, 10)
	}
	if l.TokenAddress != "" {
		labels["token_address"] = l.TokenAddress
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	return labels
}

type Metrics struct {
	// Pipeline progress
	checkpoint    prometheus.Gauge
	chainTip      prometheus.Gauge
	blocksIndexed prometheus.Counter
	backoffs      prometheus.Counter
	queueDepth    *prometheus.GaugeVec

	// RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge

	// Fetch metrics
	fetchRetries prometheus.Counter
	rangeSplits  prometheus.Counter

	// Log decode metrics
	logsFetched    prometheus.Counter
	logsSkipped    prometheus.Counter
	decodeFailures prometheus.Counter

	// Storage metrics
	batchesPersisted   *prometheus.CounterVec
	persistDuration    prometheus.Histogram
	transfersPersisted prometheus.Counter
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., chain_id), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
// This is useful when running one indexer instance per chain and filtering by chain_id.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

// newMetrics is the internal constructor that creates and registers all metrics.
func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "checkpoint_block",
			Help:      "Highest block whose transfers are fully persisted",
		}),
		chainTip: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "chain_tip_block",
			Help:      "Latest block number reported by the RPC endpoint",
		}),
		blocksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_indexed_total",
			Help:      "Total number of blocks covered by committed batches",
		}),
		backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backoffs_total",
			Help:      "Total number of times the pipeline entered backoff",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Number of batches buffered in each stage queue",
		}, []string{"queue"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "calls_total",
			Help:      "Total RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			// Buckets cover typical RPC latencies: 1ms, 5ms, 10ms, 25ms, 50ms,
			// 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "in_flight",
			Help:      "Number of RPC calls currently in progress",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Fetch,
			Name:      "retries_total",
			Help:      "Total transient RPC failures retried while fetching logs",
		}),
		rangeSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Fetch,
			Name:      "range_splits_total",
			Help:      "Total block ranges halved after the provider rejected them as too wide",
		}),
		logsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Logs,
			Name:      "fetched_total",
			Help:      "Total raw logs returned by the RPC endpoint",
		}),
		logsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Logs,
			Name:      "skipped_total",
			Help:      "Total logs skipped because they are not ERC20 transfers",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Logs,
			Name:      "decode_failures_total",
			Help:      "Total transfer-topic logs dropped due to malformed encoding",
		}),
		batchesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Storage,
			Name:      "batches_total",
			Help:      "Total batch persist attempts by status",
		}, []string{"status"}),
		persistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Storage,
			Name:      "persist_duration_seconds",
			Help:      "Time to commit one batch of transfers plus its checkpoint",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		transfersPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Storage,
			Name:      "transfers_total",
			Help:      "Total transfer rows handed to the store for insertion",
		}),
	}

	err := errors.Join(
		reg.Register(m.checkpoint),
		reg.Register(m.chainTip),
		reg.Register(m.blocksIndexed),
		reg.Register(m.backoffs),
		reg.Register(m.queueDepth),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.rpcInFlight),
		reg.Register(m.fetchRetries),
		reg.Register(m.rangeSplits),
		reg.Register(m.logsFetched),
		reg.Register(m.logsSkipped),
		reg.Register(m.decodeFailures),
		reg.Register(m.batchesPersisted),
		reg.Register(m.persistDuration),
		reg.Register(m.transfersPersisted),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetCheckpoint updates the checkpoint gauge. The seeded pre-start value may
// be negative when the configured start block is 0.
func (m *Metrics) SetCheckpoint(block int64) {
	if m == nil {
		return
	}
	m.checkpoint.Set(float64(block))
}

// SetChainTip updates the chain tip gauge.
func (m *Metrics) SetChainTip(block uint64) {
	if m == nil {
		return
	}
	m.chainTip.Set(float64(block))
}

// IncBackoff increments the pipeline backoff counter.
func (m *Metrics) IncBackoff() {
	if m == nil {
		return
	}
	m.backoffs.Inc()
}

// SetQueueDepth updates the buffered-batch gauge for a stage queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// IncRPCInFlight increments the in-flight RPC gauge.
func (m *Metrics) IncRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge.
func (m *Metrics) DecRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Dec()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// IncFetchRetry records a transient fetch failure that will be retried.
func (m *Metrics) IncFetchRetry() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

// IncRangeSplit records a range halved after a provider width rejection.
func (m *Metrics) IncRangeSplit() {
	if m == nil {
		return
	}
	m.rangeSplits.Inc()
}

// AddLogsFetched records raw logs returned for a range.
func (m *Metrics) AddLogsFetched(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.logsFetched.Add(float64(count))
}

// IncLogSkipped records a log skipped for not matching the transfer shape.
func (m *Metrics) IncLogSkipped() {
	if m == nil {
		return
	}
	m.logsSkipped.Inc()
}

// IncDecodeFailure records a transfer-topic log dropped as malformed.
func (m *Metrics) IncDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

// RecordBatchPersist records a batch persist attempt. On success the blocks
// and transfers counters advance along with the checkpoint gauge.
func (m *Metrics) RecordBatchPersist(err error, durationSeconds float64, blocks uint64, transfers int) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.batchesPersisted.WithLabelValues(status).Inc()
	m.persistDuration.Observe(durationSeconds)
	if err == nil {
		m.blocksIndexed.Add(float64(blocks))
		if transfers > 0 {
			m.transfersPersisted.Add(float64(transfers))
		}
	}
}
