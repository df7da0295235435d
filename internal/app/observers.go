package app

import (
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/infra"
)

// metricsObserver feeds connection events into the metrics counters.
type metricsObserver struct {
	metrics *infra.Metrics
}

func (o metricsObserver) OnStateChange(change domain.StateChange) {
	o.metrics.SetConnected(change.To == domain.StateConnected)
	if change.To == domain.StateReconnecting {
		o.metrics.RecordReconnect()
	}
}

func (o metricsObserver) OnLatency(latency time.Duration) {
	o.metrics.RecordLatency(latency)
}

// connectedNotifier signals (without blocking) every transition into Connected.
type connectedNotifier chan struct{}

func (n connectedNotifier) OnStateChange(change domain.StateChange) {
	if change.To != domain.StateConnected {
		return
	}
	select {
	case n <- struct{}{}:
	default:
	}
}

func (connectedNotifier) OnLatency(time.Duration) {}
