package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/event"
	"orderflow/internal/infra"

	"github.com/shopspring/decimal"
)

// SessionHandler receives the frames that concern the session rather than market state.
type SessionHandler interface {
	OnMarketStatus(open bool)
	OnSymbolChanged(msg *event.SymbolChanged)
	OnSymbolError(msg *event.SymbolError)
	OnQuote(msg *event.QuoteUpdate)
	OnOffMarketData(msg *event.OffMarketData)
	OnSearchResults(msg *event.SymbolSearchResults)
}

// PongHandler completes a heartbeat round trip.
type PongHandler interface {
	HandlePong()
}

// Router classifies inbound frames and dispatches them to their consumer.
// Bad frames and handler panics become diagnostics; nothing escapes Dispatch.
type Router struct {
	book    *OrderBook
	agg     *Aggregator
	history *TradeHistory

	session SessionHandler
	pong    PongHandler
	diag    domain.DiagnosticsSink
	metrics *infra.Metrics
	now     func() time.Time

	suspended atomic.Bool // market closed; depth and trades are not consumed
}

// RouterOption configures optional collaborators.
type RouterOption func(*Router)

func WithSession(h SessionHandler) RouterOption             { return func(r *Router) { r.session = h } }
func WithPong(h PongHandler) RouterOption                   { return func(r *Router) { r.pong = h } }
func WithDiagnostics(d domain.DiagnosticsSink) RouterOption { return func(r *Router) { r.diag = d } }
func WithMetrics(m *infra.Metrics) RouterOption             { return func(r *Router) { r.metrics = m } }
func WithClock(now func() time.Time) RouterOption           { return func(r *Router) { r.now = now } }

// WithMarketOpen seeds the suspension flag from the local market-hours guess
// until the feed reports market_status.
func WithMarketOpen(open bool) RouterOption { return func(r *Router) { r.suspended.Store(!open) } }

// NewRouter creates a router feeding book, agg and history.
func NewRouter(book *OrderBook, agg *Aggregator, history *TradeHistory, opts ...RouterOption) *Router {
	r := &Router{
		book:    book,
		agg:     agg,
		history: history,
		metrics: infra.GlobalMetrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSession installs the session handler after construction.
func (r *Router) SetSession(h SessionHandler) {
	r.session = h
}

// Suspended reports whether live consumption is paused by market_status.
func (r *Router) Suspended() bool {
	return r.suspended.Load()
}

// Dispatch decodes and routes one raw frame.
func (r *Router) Dispatch(raw []byte) {
	var kind string
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Frame handler panic recovered", slog.String("type", kind), slog.Any("panic", rec))
			r.report(domain.DiagHandlerPanic, kind, fmt.Sprintf("%v", rec))
		}
	}()

	r.metrics.RecordFrame()

	msg, err := event.Decode(raw)
	if err != nil {
		r.metrics.RecordParseError()
		slog.Warn("Dropping malformed frame", slog.Any("error", err))
		var perr *domain.ProtocolParseError
		if errors.As(err, &perr) {
			kind = perr.MsgType
		}
		r.report(domain.DiagParseError, kind, err.Error())
		return
	}
	kind = msg.Kind()

	switch m := msg.(type) {
	case *event.DepthUpdate:
		r.handleDepth(m)
	case *event.Tick:
		r.handleTick(m)
	case *event.AggregatedTrades:
		r.handleAggregated(m)
	case *event.MarketStatus:
		r.handleMarketStatus(m)
	case *event.Pong:
		if r.pong != nil {
			r.pong.HandlePong()
		}
	case *event.ErrorMessage:
		slog.Warn("Feed reported error", slog.String("code", string(m.Code)), slog.String("message", m.Message))
		r.report(domain.DiagFeedError, string(m.Code), m.Message)
	case *event.SymbolChanged:
		if r.session != nil {
			r.session.OnSymbolChanged(m)
		}
	case *event.SymbolError:
		r.report(domain.DiagSymbolError, m.Symbol, m.Message)
		if r.session != nil {
			r.session.OnSymbolError(m)
		}
	case *event.QuoteUpdate:
		if r.session != nil {
			r.session.OnQuote(m)
		}
	case *event.OffMarketData:
		if r.session != nil {
			r.session.OnOffMarketData(m)
		}
	case *event.SymbolSearchResults:
		if r.session != nil {
			r.session.OnSearchResults(m)
		}
	case *event.Unknown:
		r.metrics.RecordUnknown()
		slog.Debug("Ignoring unknown frame type", slog.String("type", m.Type))
	}
}

func (r *Router) handleDepth(m *event.DepthUpdate) {
	if r.suspended.Load() {
		return
	}
	if active := r.book.Instrument(); m.Symbol != "" && active != "" && !strings.EqualFold(m.Symbol, active) {
		slog.Debug("Dropping depth for inactive instrument",
			slog.String("symbol", m.Symbol),
			slog.String("active", active),
		)
		return
	}

	if _, err := r.book.ApplySnapshot(m, r.now()); err != nil {
		r.metrics.RecordCrossedBook()
		slog.Warn("Rejected depth update", slog.Any("error", err))
		r.report(domain.DiagCrossedBook, "", err.Error())
	}
}

func (r *Router) handleTick(m *event.Tick) {
	if r.suspended.Load() {
		return
	}
	side, ok := domain.ParseSide(m.Side)
	if !ok || !m.Price.IsPositive() || m.Quantity <= 0 {
		r.metrics.RecordParseError()
		r.report(domain.DiagParseError, event.TypeTick, fmt.Sprintf("unusable tick: price=%s qty=%d side=%q", m.Price, m.Quantity, m.Side))
		return
	}

	ts := m.Timestamp.Time
	if ts.IsZero() {
		ts = r.now()
	}
	t := domain.Trade{
		Price:        m.Price,
		Quantity:     int64(m.Quantity),
		Side:         side,
		Timestamp:    ts,
		SequenceHint: m.Sequence,
	}
	r.agg.Ingest(t, r.now())
	r.history.Append(t)
}

// handleAggregated feeds rows to the aggregator as-is and records one history
// entry per side with volume, so the heatmap can draw them.
func (r *Router) handleAggregated(m *event.AggregatedTrades) {
	if r.suspended.Load() {
		return
	}
	arrived := r.now()
	ts := m.Timestamp.Time
	if ts.IsZero() {
		ts = arrived
	}

	keys := make([]string, 0, len(m.Data))
	for k := range m.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		row := m.Data[key]
		price, err := decimal.NewFromString(key)
		if err != nil || !price.IsPositive() {
			r.metrics.RecordParseError()
			r.report(domain.DiagParseError, event.TypeAggregatedTrades, fmt.Sprintf("bad price key %q", key))
			continue
		}

		stats := domain.BucketStats{
			TotalVolume: int64(row.TotalVolume),
			BuyVolume:   int64(row.BuyVolume),
			SellVolume:  int64(row.SellVolume),
			TradeCount:  int64(row.TradeCount),
		}
		if stats.TotalVolume == 0 {
			stats.TotalVolume = stats.BuyVolume + stats.SellVolume
		}
		r.agg.IngestAggregate(price, stats, arrived)

		if stats.BuyVolume > 0 {
			r.history.Append(domain.Trade{Price: price, Quantity: stats.BuyVolume, Side: domain.SideBuy, Timestamp: ts})
		}
		if stats.SellVolume > 0 {
			r.history.Append(domain.Trade{Price: price, Quantity: stats.SellVolume, Side: domain.SideSell, Timestamp: ts})
		}
	}
}

func (r *Router) handleMarketStatus(m *event.MarketStatus) {
	open := m.Open()
	if r.suspended.Swap(!open) == open {
		slog.Info("Market status changed", slog.Bool("open", open))
	}
	if r.session != nil {
		r.session.OnMarketStatus(open)
	}
}

// reset clears per-instrument state. Called on the pipeline goroutine.
func (r *Router) reset(instrument string) {
	r.book.Reset(instrument)
	r.agg.Reset()
	r.history.Reset()
}

func (r *Router) report(kind, code, message string) {
	if r.diag == nil {
		return
	}
	r.diag.Record(domain.Diagnostic{
		Kind:       kind,
		Instrument: r.book.Instrument(),
		Code:       code,
		Message:    message,
		CreatedAt:  r.now(),
	})
}
