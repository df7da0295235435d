package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single print from the feed. Immutable once received.
type Trade struct {
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Side         Side            `json:"side"`
	Timestamp    time.Time       `json:"timestamp"`
	SequenceHint *int64          `json:"sequence_hint,omitempty"`
}

// BucketStats is the accumulated volume of one price cell.
type BucketStats struct {
	TotalVolume int64 `json:"total_volume"`
	BuyVolume   int64 `json:"buy_volume"`
	SellVolume  int64 `json:"sell_volume"`
	TradeCount  int64 `json:"trade_count"`
}

// Add merges other into s.
func (s *BucketStats) Add(other BucketStats) {
	s.TotalVolume += other.TotalVolume
	s.BuyVolume += other.BuyVolume
	s.SellVolume += other.SellVolume
	s.TradeCount += other.TradeCount
}

// TradeBucket is a closed time/price cell handed to the renderer by value.
type TradeBucket struct {
	Price       decimal.Decimal `json:"price"`
	WindowStart time.Time       `json:"window_start"`
	BucketStats
}

// AlignPrice floors price to a multiple of step. A non-positive step leaves the price unchanged.
func AlignPrice(price, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	return price.Div(step).Floor().Mul(step)
}
