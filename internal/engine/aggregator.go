package engine

import (
	"log/slog"
	"slices"
	"time"

	"orderflow/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	MinWindow = 100 * time.Millisecond
	MaxWindow = time.Second

	// maxDrainQueue bounds closed buckets waiting for a consumer
	maxDrainQueue = 10000
)

// DefaultPriceStep is the bucket price alignment used when none is configured.
var DefaultPriceStep = decimal.RequireFromString("0.05")

// openWindow holds the buckets of one time window, keyed by aligned price.
type openWindow struct {
	start   time.Time
	buckets map[string]*domain.TradeBucket
}

// Aggregator buckets trades into time/price cells of the currently open window.
// Windows follow the arrival clock, not feed timestamps: a trade lands in the window
// open when it is ingested, and Advance closes that window once its end has passed.
// At most one window is open at a time. Not safe for concurrent use; it is owned by
// the pipeline goroutine.
type Aggregator struct {
	step   decimal.Decimal
	window time.Duration

	current *openWindow
	closed  []domain.TradeBucket
}

// NewAggregator creates an aggregator. window is clamped to [MinWindow, MaxWindow].
func NewAggregator(step decimal.Decimal, window time.Duration) *Aggregator {
	if !step.IsPositive() {
		step = DefaultPriceStep
	}
	window = min(max(window, MinWindow), MaxWindow)
	return &Aggregator{
		step:   step,
		window: window,
	}
}

// Window returns the effective window duration.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// Ingest accounts one trade that arrived at now. Side is taken as supplied.
func (a *Aggregator) Ingest(t domain.Trade, now time.Time) {
	stats := domain.BucketStats{TotalVolume: t.Quantity, TradeCount: 1}
	switch t.Side {
	case domain.SideBuy:
		stats.BuyVolume = t.Quantity
	case domain.SideSell:
		stats.SellVolume = t.Quantity
	}
	a.add(t.Price, stats, now)
}

// IngestAggregate accounts a row that the feed already aggregated, arriving at now.
func (a *Aggregator) IngestAggregate(price decimal.Decimal, stats domain.BucketStats, now time.Time) {
	a.add(price, stats, now)
}

func (a *Aggregator) add(price decimal.Decimal, stats domain.BucketStats, now time.Time) {
	// the open window is due but no tick has closed it yet
	if a.current != nil && !a.current.start.Add(a.window).After(now) {
		a.flush()
	}
	if a.current == nil {
		a.current = &openWindow{
			start:   now.Truncate(a.window),
			buckets: make(map[string]*domain.TradeBucket),
		}
	}

	bucketPrice := domain.AlignPrice(price, a.step)
	pk := bucketPrice.String()
	b, ok := a.current.buckets[pk]
	if !ok {
		b = &domain.TradeBucket{Price: bucketPrice, WindowStart: a.current.start}
		a.current.buckets[pk] = b
	}
	b.Add(stats)
}

// Advance closes the open window once now has reached its end.
func (a *Aggregator) Advance(now time.Time) {
	if a.current != nil && !a.current.start.Add(a.window).After(now) {
		a.flush()
	}
}

func (a *Aggregator) flush() {
	w := a.current
	a.current = nil

	buckets := make([]domain.TradeBucket, 0, len(w.buckets))
	for _, b := range w.buckets {
		buckets = append(buckets, *b)
	}
	slices.SortFunc(buckets, func(x, y domain.TradeBucket) int { return x.Price.Cmp(y.Price) })
	a.enqueue(buckets)
}

func (a *Aggregator) enqueue(buckets []domain.TradeBucket) {
	a.closed = append(a.closed, buckets...)
	if over := len(a.closed) - maxDrainQueue; over > 0 {
		slog.Warn("Closed bucket queue full, dropping oldest", slog.Int("dropped", over))
		a.closed = slices.Delete(a.closed, 0, over)
	}
}

// DrainClosedBuckets hands off closed buckets by value, oldest window first.
func (a *Aggregator) DrainClosedBuckets() []domain.TradeBucket {
	out := a.closed
	a.closed = nil
	return out
}

// OpenWindows returns the number of windows still accumulating, zero or one.
func (a *Aggregator) OpenWindows() int {
	if a.current == nil {
		return 0
	}
	return 1
}

// Reset drops open and undrained buckets.
func (a *Aggregator) Reset() {
	a.current = nil
	a.closed = nil
}
