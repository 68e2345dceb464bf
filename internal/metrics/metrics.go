package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle counters and gauges, partitioned by chain id.

var (
	// Dispatcher
	CheckpointBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "answerer",
		Subsystem: "dispatcher",
		Name:      "checkpoint_block",
		Help:      "Last block persisted as fully processed",
	}, []string{"chain_id"})

	ScanProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "answerer",
		Subsystem: "dispatcher",
		Name:      "past_scan_progress_percent",
		Help:      "Progress of the historical scan",
	}, []string{"chain_id"})

	UpdatesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "answerer",
		Subsystem: "dispatcher",
		Name:      "updates_processed_total",
		Help:      "Total scanner updates handled, by kind",
	}, []string{"chain_id", "kind"})

	// Acknowledgement
	CandidatesExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "answerer",
		Subsystem: "acknowledge",
		Name:      "candidates_total",
		Help:      "Total candidate oracles extracted from factory logs",
	}, []string{"chain_id"})

	OraclesAcknowledged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "answerer",
		Subsystem: "acknowledge",
		Name:      "acknowledged_total",
		Help:      "Total oracles recorded as active",
	}, []string{"chain_id"})

	OraclesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "answerer",
		Subsystem: "acknowledge",
		Name:      "rejected_total",
		Help:      "Total candidates dropped, by reason",
	}, []string{"chain_id", "reason"})

	AcknowledgeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "answerer",
		Subsystem: "acknowledge",
		Name:      "errors_total",
		Help:      "Total acknowledgement failures",
	}, []string{"chain_id"})

	// Answering
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "answerer",
		Subsystem: "answering",
		Name:      "sweep_duration_seconds",
		Help:      "Answering sweep duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"chain_id"})

	OraclesAnswered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "answerer",
		Subsystem: "answering",
		Name:      "answered_total",
		Help:      "Total oracles finalized",
	}, []string{"chain_id"})

	AnswerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "answerer",
		Subsystem: "answering",
		Name:      "errors_total",
		Help:      "Total failed answer attempts, left pending for the next block",
	}, []string{"chain_id"})

	ActiveOracles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "answerer",
		Subsystem: "answering",
		Name:      "active_oracles",
		Help:      "Active oracles seen by the last sweep",
	}, []string{"chain_id"})
)
