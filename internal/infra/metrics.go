package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability of the engine.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	executionsProcessed atomic.Uint64
	anomalies           atomic.Uint64
	fillsApplied        atomic.Uint64
	placementAttempts   atomic.Uint64
	placementFailures   atomic.Uint64
	placementsExhausted atomic.Uint64
	cancels             atomic.Uint64
	backfillPages       atomic.Uint64
	backfillErrors      atomic.Uint64
	resyncs             atomic.Uint64
	venueTerminations   atomic.Uint64
	errorsTotal         atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	watermark         atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordExecution records a processed execution with its pipeline latency.
func (m *Metrics) RecordExecution(latencyNs int64, id int64) {
	m.executionsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
	m.watermark.Store(id)
}

// RecordAnomaly records a duplicate or out-of-order execution id.
func (m *Metrics) RecordAnomaly() {
	m.anomalies.Add(1)
}

// RecordFill records a fill applied to one of our orders.
func (m *Metrics) RecordFill() {
	m.fillsApplied.Add(1)
}

// RecordPlacement records one placement attempt and whether it failed.
func (m *Metrics) RecordPlacement(failed bool) {
	m.placementAttempts.Add(1)
	if failed {
		m.placementFailures.Add(1)
	}
}

// RecordPlacementExhausted records a request whose retries all failed.
func (m *Metrics) RecordPlacementExhausted() {
	m.placementsExhausted.Add(1)
	m.errorsTotal.Add(1)
}

// RecordCancel records a successful cancel.
func (m *Metrics) RecordCancel() {
	m.cancels.Add(1)
}

// RecordBackfillPage records a backfill fetch and whether it failed.
func (m *Metrics) RecordBackfillPage(failed bool) {
	m.backfillPages.Add(1)
	if failed {
		m.backfillErrors.Add(1)
	}
}

// RecordResync records a backfill run after the live stream was resubscribed.
func (m *Metrics) RecordResync() {
	m.resyncs.Add(1)
}

// RecordVenueTermination records an order ended by a venue-reported update.
func (m *Metrics) RecordVenueTermination() {
	m.venueTerminations.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	ExecutionsProcessed uint64    `json:"executions_processed"`
	Anomalies           uint64    `json:"anomalies"`
	FillsApplied        uint64    `json:"fills_applied"`
	PlacementAttempts   uint64    `json:"placement_attempts"`
	PlacementFailures   uint64    `json:"placement_failures"`
	PlacementsExhausted uint64    `json:"placements_exhausted"`
	Cancels             uint64    `json:"cancels"`
	BackfillPages       uint64    `json:"backfill_pages"`
	BackfillErrors      uint64    `json:"backfill_errors"`
	Resyncs             uint64    `json:"resyncs"`
	VenueTerminations   uint64    `json:"venue_terminations"`
	ErrorsTotal         uint64    `json:"errors_total"`
	AvgLatencyNs        int64     `json:"avg_latency_ns"`
	ActiveConnections   int32     `json:"active_connections"`
	Watermark           int64     `json:"watermark"`
	Timestamp           time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		ExecutionsProcessed: m.executionsProcessed.Load(),
		Anomalies:           m.anomalies.Load(),
		FillsApplied:        m.fillsApplied.Load(),
		PlacementAttempts:   m.placementAttempts.Load(),
		PlacementFailures:   m.placementFailures.Load(),
		PlacementsExhausted: m.placementsExhausted.Load(),
		Cancels:             m.cancels.Load(),
		BackfillPages:       m.backfillPages.Load(),
		BackfillErrors:      m.backfillErrors.Load(),
		Resyncs:             m.resyncs.Load(),
		VenueTerminations:   m.venueTerminations.Load(),
		ErrorsTotal:         m.errorsTotal.Load(),
		AvgLatencyNs:        avgLatency,
		ActiveConnections:   m.activeConnections.Load(),
		Watermark:           m.watermark.Load(),
		Timestamp:           time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.executionsProcessed.Store(0)
	m.anomalies.Store(0)
	m.fillsApplied.Store(0)
	m.placementAttempts.Store(0)
	m.placementFailures.Store(0)
	m.placementsExhausted.Store(0)
	m.cancels.Store(0)
	m.backfillPages.Store(0)
	m.backfillErrors.Store(0)
	m.resyncs.Store(0)
	m.venueTerminations.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.watermark.Store(0)
}
