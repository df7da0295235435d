package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight pipeline observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	framesReceived  atomic.Uint64
	framesDropped   atomic.Uint64
	parseErrors     atomic.Uint64
	crossedBooks    atomic.Uint64
	reconnects      atomic.Uint64
	framesRendered  atomic.Uint64
	framesSkipped   atomic.Uint64
	unknownMessages atomic.Uint64

	// Latency tracking (ping/pong round trip)
	lastLatencyNs atomic.Int64
	latencySumNs  atomic.Int64
	latencyCount  atomic.Uint64

	// Gauges
	connected atomic.Int32 // 1 = connected
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordFrame counts an inbound frame.
func (m *Metrics) RecordFrame() { m.framesReceived.Add(1) }

// RecordDropped counts a frame dropped because the inbox was full.
func (m *Metrics) RecordDropped() { m.framesDropped.Add(1) }

// RecordParseError counts a malformed frame.
func (m *Metrics) RecordParseError() { m.parseErrors.Add(1) }

// RecordUnknown counts a frame with an unrecognized discriminator.
func (m *Metrics) RecordUnknown() { m.unknownMessages.Add(1) }

// RecordCrossedBook counts a rejected depth update.
func (m *Metrics) RecordCrossedBook() { m.crossedBooks.Add(1) }

// RecordReconnect counts a scheduled reconnect attempt.
func (m *Metrics) RecordReconnect() { m.reconnects.Add(1) }

// RecordRender counts a painted frame.
func (m *Metrics) RecordRender() { m.framesRendered.Add(1) }

// RecordSkip counts a paused tick.
func (m *Metrics) RecordSkip() { m.framesSkipped.Add(1) }

// RecordLatency records a heartbeat round trip.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.lastLatencyNs.Store(int64(d))
	m.latencySumNs.Add(int64(d))
	m.latencyCount.Add(1)
}

// SetConnected sets the connection gauge.
func (m *Metrics) SetConnected(up bool) {
	if up {
		m.connected.Store(1)
	} else {
		m.connected.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesReceived  uint64
	FramesDropped   uint64
	ParseErrors     uint64
	UnknownMessages uint64
	CrossedBooks    uint64
	Reconnects      uint64
	FramesRendered  uint64
	FramesSkipped   uint64
	LastLatency     time.Duration
	AvgLatency      time.Duration
	Connected       bool
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avg time.Duration
	if count := m.latencyCount.Load(); count > 0 {
		avg = time.Duration(m.latencySumNs.Load() / int64(count))
	}

	return MetricsSnapshot{
		FramesReceived:  m.framesReceived.Load(),
		FramesDropped:   m.framesDropped.Load(),
		ParseErrors:     m.parseErrors.Load(),
		UnknownMessages: m.unknownMessages.Load(),
		CrossedBooks:    m.crossedBooks.Load(),
		Reconnects:      m.reconnects.Load(),
		FramesRendered:  m.framesRendered.Load(),
		FramesSkipped:   m.framesSkipped.Load(),
		LastLatency:     time.Duration(m.lastLatencyNs.Load()),
		AvgLatency:      avg,
		Connected:       m.connected.Load() == 1,
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.framesReceived.Store(0)
	m.framesDropped.Store(0)
	m.parseErrors.Store(0)
	m.unknownMessages.Store(0)
	m.crossedBooks.Store(0)
	m.reconnects.Store(0)
	m.framesRendered.Store(0)
	m.framesSkipped.Store(0)
	m.lastLatencyNs.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.connected.Store(0)
}
