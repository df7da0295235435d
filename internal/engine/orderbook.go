package engine

import (
	"slices"
	"sync/atomic"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/event"

	"github.com/shopspring/decimal"
)

// OrderBook reconstructs the ladder of the active instrument from full-depth updates.
// Writes happen only on the pipeline goroutine; readers load the published snapshot
// through an atomic pointer and always see a fully formed value.
type OrderBook struct {
	current    atomic.Pointer[domain.OrderBookSnapshot]
	instrument string
}

// NewOrderBook creates an empty book for instrument.
func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{instrument: instrument}
}

// ApplySnapshot replaces the ladder with update. A crossed update is rejected with
// *domain.CrossedBookError and the previous snapshot stays published.
func (b *OrderBook) ApplySnapshot(update *event.DepthUpdate, now time.Time) (*domain.OrderBookSnapshot, error) {
	snap := &domain.OrderBookSnapshot{
		InstrumentID: b.instrument,
		Bids:         normalizeLevels(update.Bids, true),
		Asks:         normalizeLevels(update.Asks, false),
		AsOf:         now,
	}
	if update.Timestamp != nil && !update.Timestamp.IsZero() {
		snap.AsOf = update.Timestamp.Time
	}
	if lt := update.LastTrade; lt != nil && lt.Price.IsPositive() {
		side, _ := domain.ParseSide(lt.Side)
		snap.LastTrade = &domain.LastTrade{
			Price:    lt.Price,
			Quantity: int64(lt.Quantity),
			Side:     side,
		}
	}

	if snap.IsCrossed() {
		bid, _ := snap.BestBid()
		ask, _ := snap.BestAsk()
		return nil, &domain.CrossedBookError{
			Instrument: b.instrument,
			BestBid:    bid.Price,
			BestAsk:    ask.Price,
		}
	}

	b.current.Store(snap)
	return snap, nil
}

// Snapshot returns the current snapshot, nil before the first valid update.
func (b *OrderBook) Snapshot() *domain.OrderBookSnapshot {
	return b.current.Load()
}

// Cumulative returns up to n levels per side with running quantities from the best level inward.
// Recomputed on every call against the latest snapshot.
func (b *OrderBook) Cumulative(n int) (bids, asks []domain.CumulativeLevel) {
	snap := b.current.Load()
	if snap == nil {
		return nil, nil
	}
	return domain.Cumulate(snap.Bids, n), domain.Cumulate(snap.Asks, n)
}

// Spread returns best ask minus best bid; ok is false when either side is empty.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	return b.current.Load().Spread()
}

// Instrument returns the instrument the book is tracking.
func (b *OrderBook) Instrument() string {
	return b.instrument
}

// Reset discards the snapshot and starts tracking instrument.
func (b *OrderBook) Reset(instrument string) {
	b.instrument = instrument
	b.current.Store(nil)
}

// normalizeLevels drops non-positive quantities, keeps the last level seen per price,
// and sorts bids descending or asks ascending.
func normalizeLevels(levels []event.Level, descending bool) []domain.PriceLevel {
	byPrice := make(map[string]int, len(levels))
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity <= 0 || !lvl.Price.IsPositive() {
			continue
		}
		key := lvl.Price.String()
		if i, ok := byPrice[key]; ok {
			out[i].Quantity = int64(lvl.Quantity)
			continue
		}
		byPrice[key] = len(out)
		out = append(out, domain.PriceLevel{Price: lvl.Price, Quantity: int64(lvl.Quantity)})
	}

	slices.SortFunc(out, func(a, b domain.PriceLevel) int {
		if descending {
			return b.Price.Cmp(a.Price)
		}
		return a.Price.Cmp(b.Price)
	})
	return out
}
