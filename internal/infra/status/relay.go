package status

import (
	"context"
	"log/slog"
	"time"

	"orderflow/internal/domain"
)

const defaultRelayQueue = 64

type update struct {
	change  *domain.StateChange
	latency time.Duration
}

// Relay observes the connection supervisor and forwards updates to a
// domain.StatusPublisher. Observer callbacks only enqueue; Run does the publishing,
// so a slow or unreachable status backend never stalls the supervisor.
type Relay struct {
	pub   domain.StatusPublisher
	queue chan update
}

// NewRelay creates a relay with room for size pending updates.
func NewRelay(pub domain.StatusPublisher, size int) *Relay {
	if size <= 0 {
		size = defaultRelayQueue
	}
	return &Relay{pub: pub, queue: make(chan update, size)}
}

// OnStateChange queues a state update; it is dropped when the queue is full.
func (r *Relay) OnStateChange(change domain.StateChange) {
	if r == nil {
		return
	}
	r.enqueue(update{change: &change})
}

// OnLatency queues a latency sample; it is dropped when the queue is full.
func (r *Relay) OnLatency(latency time.Duration) {
	if r == nil {
		return
	}
	r.enqueue(update{latency: latency})
}

func (r *Relay) enqueue(u update) {
	select {
	case r.queue <- u:
	default:
		slog.Debug("Status queue full, dropping update", slog.Bool("state", u.change != nil))
	}
}

// Pending returns the number of queued updates.
func (r *Relay) Pending() int {
	return len(r.queue)
}

// Run publishes queued updates until ctx is done. Publish failures are logged and skipped.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-r.queue:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			var err error
			if u.change != nil {
				err = r.pub.PublishState(pctx, *u.change)
			} else {
				err = r.pub.PublishLatency(pctx, u.latency)
			}
			cancel()
			if err != nil {
				slog.Warn("Failed to publish status", slog.Any("error", err))
			}
		}
	}
}
