package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/infra"
)

// BucketSink receives closed trade buckets by value.
type BucketSink interface {
	AddBuckets(buckets []domain.TradeBucket)
}

// item is one unit of pipeline work: a raw frame or a control function.
type item struct {
	raw  []byte
	fn   func()
	done chan struct{}
}

// Pipeline is the single-goroutine frame processor. Frames and control events share
// one inbox, so they run strictly in arrival order and never concurrently.
type Pipeline struct {
	inbox   chan item
	router  *Router
	agg     *Aggregator
	sink    BucketSink
	metrics *infra.Metrics
	stopped chan struct{}
}

// NewPipeline creates a pipeline around router. sink may be nil.
func NewPipeline(inboxSize int, router *Router, sink BucketSink) *Pipeline {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	return &Pipeline{
		inbox:   make(chan item, inboxSize),
		router:  router,
		agg:     router.agg,
		sink:    sink,
		metrics: router.metrics,
		stopped: make(chan struct{}),
	}
}

// Push enqueues a raw frame without blocking. A full inbox drops the frame.
func (p *Pipeline) Push(raw []byte) {
	select {
	case p.inbox <- item{raw: raw}:
	default:
		p.metrics.RecordDropped()
		slog.Warn("Pipeline inbox full, dropping frame", slog.Int("capacity", cap(p.inbox)))
		if p.router.diag != nil {
			p.router.diag.Record(domain.Diagnostic{
				Kind:      domain.DiagInboxOverflow,
				Message:   "inbox full, frame dropped",
				CreatedAt: time.Now(),
			})
		}
	}
}

// Do runs fn on the pipeline goroutine after every frame already queued, and
// waits for it to finish.
func (p *Pipeline) Do(ctx context.Context, fn func()) error {
	it := item{fn: fn, done: make(chan struct{})}

	select {
	case p.inbox <- it:
	case <-p.stopped:
		return domain.ErrPipelineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-it.done:
		return nil
	case <-p.stopped:
		return domain.ErrPipelineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetInstrument clears the book, aggregator and history and switches the active
// instrument. Returns once the reset has run; frames pushed afterwards see the new state.
func (p *Pipeline) ResetInstrument(ctx context.Context, instrument string) error {
	return p.Do(ctx, func() {
		p.router.reset(instrument)
		slog.Info("Pipeline state reset", slog.String("instrument", instrument))
	})
}

// Run processes the inbox until ctx is done. Must run in exactly one goroutine.
// Aggregator windows are closed on a ticker at the window duration.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("Pipeline started", slog.Duration("window", p.agg.Window()))
	defer close(p.stopped)

	ticker := time.NewTicker(p.agg.Window())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Pipeline stopping...")
			return ctx.Err()
		case it := <-p.inbox:
			p.process(it)
		case now := <-ticker.C:
			p.advance(now)
		}
	}
}

func (p *Pipeline) process(it item) {
	if it.fn != nil {
		func() {
			defer close(it.done)
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Pipeline control panic recovered", slog.Any("panic", r))
					p.router.report(domain.DiagHandlerPanic, "control", fmt.Sprintf("%v", r))
				}
			}()
			it.fn()
		}()
		return
	}
	p.router.Dispatch(it.raw)
}

// advance closes due aggregator windows and hands the buckets to the sink.
func (p *Pipeline) advance(now time.Time) {
	p.agg.Advance(now)
	buckets := p.agg.DrainClosedBuckets()
	if len(buckets) > 0 && p.sink != nil {
		p.sink.AddBuckets(buckets)
	}
}
