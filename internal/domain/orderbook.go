package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade as reported by the feed.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide normalizes a feed side string. Unknown values report ok=false.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "BUY", "Buy", "B", "b":
		return SideBuy, true
	case "sell", "SELL", "Sell", "S", "s":
		return SideSell, true
	default:
		return "", false
	}
}

// PriceLevel is one rung of a ladder.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// CumulativeLevel pairs a level with the running quantity from the best level inward.
type CumulativeLevel struct {
	PriceLevel
	Cumulative int64 `json:"cumulative"`
}

// LastTrade is the optional last print carried on a depth update.
type LastTrade struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Side     Side            `json:"side"`
}

// OrderBookSnapshot is an immutable view of the ladder for one instrument.
// Bids are sorted descending, asks ascending, at most one level per price per side.
// A snapshot is never mutated after publication; updates replace it wholesale.
type OrderBookSnapshot struct {
	InstrumentID string       `json:"instrument_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	LastTrade    *LastTrade   `json:"last_trade,omitempty"`
	AsOf         time.Time    `json:"as_of"`
}

// BestBid returns the highest bid level
func (s *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if s == nil || len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level
func (s *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if s == nil || len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Spread returns bestAsk - bestBid. ok is false unless both sides are present.
func (s *OrderBookSnapshot) Spread() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// IsCrossed reports best bid >= best ask with both sides populated.
func (s *OrderBookSnapshot) IsCrossed() bool {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	return okBid && okAsk && bid.Price.GreaterThanOrEqual(ask.Price)
}

// PriceExtremes returns the lowest bid and highest ask (or the extremes of whichever side exists).
func (s *OrderBookSnapshot) PriceExtremes() (lo, hi decimal.Decimal, ok bool) {
	if s == nil {
		return decimal.Zero, decimal.Zero, false
	}
	first := true
	visit := func(levels []PriceLevel) {
		for _, lvl := range levels {
			if first {
				lo, hi, first = lvl.Price, lvl.Price, false
				continue
			}
			if lvl.Price.LessThan(lo) {
				lo = lvl.Price
			}
			if lvl.Price.GreaterThan(hi) {
				hi = lvl.Price
			}
		}
	}
	visit(s.Bids)
	visit(s.Asks)
	return lo, hi, !first
}

// Cumulate pairs each of the first n levels with its running quantity.
// n <= 0 means all levels.
func Cumulate(levels []PriceLevel, n int) []CumulativeLevel {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	out := make([]CumulativeLevel, n)
	var running int64
	for i := 0; i < n; i++ {
		running += levels[i].Quantity
		out[i] = CumulativeLevel{PriceLevel: levels[i], Cumulative: running}
	}
	return out
}
