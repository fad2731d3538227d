// Package metrics holds the Prometheus collectors of the replication engine
// and the document server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Operation queue
	Operations *prometheus.CounterVec // docsync_operations_total{type,result}
	QueueDepth prometheus.Gauge

	// Chunk codec
	ChunkWrites  prometheus.Counter
	ChunkSkips   prometheus.Counter
	ChunkDeletes prometheus.Counter

	// Hydration and recovery
	Hydrations        *prometheus.CounterVec // docsync_hydrations_total{result}
	Conflicts         *prometheus.CounterVec // docsync_conflicts_total{strategy}
	IntegrityFailures *prometheus.CounterVec // docsync_integrity_failures_total{recovery}

	// Document server
	HTTPRequests     *prometheus.CounterVec   // docsync_http_requests_total{method,route,status}
	HTTPDuration     *prometheus.HistogramVec // docsync_http_request_duration_seconds{method,route}
	CommittedWrites  prometheus.Counter
	PreconditionFail prometheus.Counter
}

// New registers every collector with registry. Each call needs its own
// registry (tests use prometheus.NewRegistry()).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_operations_total",
			Help: "Queued sync operations executed, by type and result",
		}, []string{"type", "result"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_queue_depth",
			Help: "Operations waiting in the sync queue",
		}),

		ChunkWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "docsync_chunk_writes_total",
			Help: "Chunk documents written to the remote store",
		}),

		ChunkSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "docsync_chunk_skips_total",
			Help: "Chunk writes skipped because the remote chunk was unchanged",
		}),

		ChunkDeletes: f.NewCounter(prometheus.CounterOpts{
			Name: "docsync_chunk_deletes_total",
			Help: "Stale chunk documents deleted from the remote store",
		}),

		Hydrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_hydrations_total",
			Help: "Per-key hydration outcomes",
		}, []string{"result"}),

		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_conflicts_total",
			Help: "Detected conflicts by resolution strategy",
		}, []string{"strategy"}),

		IntegrityFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_integrity_failures_total",
			Help: "Integrity failures by recovery strategy",
		}, []string{"recovery"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_http_requests_total",
			Help: "HTTP requests served by the document server",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsync_http_request_duration_seconds",
			Help:    "HTTP request latency of the document server",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		CommittedWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "docsync_server_committed_writes_total",
			Help: "Document writes committed by the server",
		}),

		PreconditionFail: f.NewCounter(prometheus.CounterOpts{
			Name: "docsync_server_precondition_failures_total",
			Help: "Commits rejected because a document changed after it was read",
		}),
	}
}

// OperationDone counts a finished queue operation.
func (m *Metrics) OperationDone(opType, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(opType, result).Inc()
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// ChunksWritten records the outcome of one chunk diff.
func (m *Metrics) ChunksWritten(written, skipped, deleted int) {
	if m == nil {
		return
	}
	m.ChunkWrites.Add(float64(written))
	m.ChunkSkips.Add(float64(skipped))
	m.ChunkDeletes.Add(float64(deleted))
}

// Hydrated counts one per-key hydration outcome.
func (m *Metrics) Hydrated(result string) {
	if m == nil {
		return
	}
	m.Hydrations.WithLabelValues(result).Inc()
}

// ConflictDetected counts a conflict resolved with strategy.
func (m *Metrics) ConflictDetected(strategy string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(strategy).Inc()
}

// IntegrityFailure counts an integrity failure handled by recovery.
func (m *Metrics) IntegrityFailure(recovery string) {
	if m == nil {
		return
	}
	m.IntegrityFailures.WithLabelValues(recovery).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Committed counts writes applied by one server commit.
func (m *Metrics) Committed(writes int) {
	if m == nil {
		return
	}
	m.CommittedWrites.Add(float64(writes))
}

// PreconditionFailed counts a rejected commit.
func (m *Metrics) PreconditionFailed() {
	if m == nil {
		return
	}
	m.PreconditionFail.Inc()
}
