// Package metrics provides Prometheus collectors for Quasar runs.
//
// # Overview
//
// The collectors cover the three places where a run spends its time:
//   - record parsing (records read, rejected, substituted, truncated fields)
//   - token tracking (lineage events by kind)
//   - node execution (results, durations, edge depth, process memory)
//
// # Basic Usage
//
//	metrics.RecordsParsed.WithLabelValues("delimited", metrics.StatusOK).Inc()
//
//	timer := metrics.NewTimer()
//	result := node.Execute(ctx)
//	metrics.NodeDuration.WithLabelValues(node.Type()).Observe(timer.Stop().Seconds())
//
//	tracker := metrics.NewThroughputTracker("reader_1")
//	for rec := range records {
//	    tracker.Increment(1)
//	}
//	rps := tracker.GetAndReset()
//
// All collectors are registered with the default registry on package load;
// Handler exposes them over HTTP.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record status label values
const (
	StatusOK          = "ok"
	StatusRejected    = "rejected"
	StatusSubstituted = "substituted"
	StatusFailed      = "failed"
)

var (
	// RecordsParsed counts records produced by parsers.
	// Labels: format (fixed/delimited/dbf/seqfile), status (ok/rejected/substituted/failed)
	RecordsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quasar_records_parsed_total",
			Help: "Total number of records read by parsers",
		},
		[]string{"format", "status"},
	)

	// RecordsFormatted counts records written by formatters.
	// Labels: format
	RecordsFormatted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quasar_records_formatted_total",
			Help: "Total number of records written by formatters",
		},
		[]string{"format"},
	)

	// BadDataErrors counts field population failures seen by exception handlers.
	// Labels: policy (strict/controlled/lenient)
	BadDataErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quasar_bad_data_errors_total",
			Help: "Field values that could not be parsed into their declared type",
		},
		[]string{"policy"},
	)

	// FieldsTruncated counts delimited values cut at the maximum field length
	FieldsTruncated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quasar_fields_truncated_total",
			Help: "Field values truncated because they exceeded the maximum field length",
		},
		[]string{"format"},
	)

	// TokenEvents counts lineage events.
	// Labels: event (init/read/write/free/link/unify)
	TokenEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quasar_token_events_total",
			Help: "Token lifecycle events recorded by trackers",
		},
		[]string{"event"},
	)

	// TokensLive tracks tokens initialized but not yet freed
	TokensLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quasar_tokens_live",
			Help: "Tokens initialized and not yet freed",
		},
	)

	// NodeResults counts finished node executions.
	// Labels: node_type, result (finished_ok/error/fatal_error/aborted)
	NodeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quasar_node_results_total",
			Help: "Node executions by result code",
		},
		[]string{"node_type", "result"},
	)

	// NodeDuration tracks node execution time in seconds
	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "quasar_node_duration_seconds",
			Help: "Node execution duration in seconds",
			Buckets: []float64{
				0.001, // 1ms - trivial nodes
				0.01,  // 10ms
				0.1,   // 100ms
				1,     // 1s
				10,    // 10s - typical file loads
				60,    // 1m
				600,   // 10m - large batch loads
			},
		},
		[]string{"node_type"},
	)

	// EdgeDepth tracks the number of buffered tokens per edge
	EdgeDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quasar_edge_depth",
			Help: "Tokens buffered on an edge",
		},
		[]string{"edge"},
	)

	// FilesystemHandles tracks open shared filesystem handles by scheme
	FilesystemHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quasar_filesystem_handles",
			Help: "Open reference-counted filesystem handles",
		},
		[]string{"scheme"},
	)

	// ProcessMemory tracks the resident set size sampled by the watchdog
	ProcessMemory = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quasar_process_resident_memory_bytes",
			Help: "Resident memory of the running process in bytes",
		},
	)

	// Throughput tracks records per second per node
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quasar_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"node"},
	)
)

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks records per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	total     int64
	lastReset time.Time
	node      string
}

// NewThroughputTracker creates a tracker labelled with the node id
func NewThroughputTracker(node string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		node:      node,
	}
}

// Increment adds n to the record count
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
	t.total += n
}

// Total returns the number of records counted since creation
func (t *ThroughputTracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// GetAndReset calculates the throughput of the current window, publishes
// it and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.node).Set(throughput)

	return throughput
}
