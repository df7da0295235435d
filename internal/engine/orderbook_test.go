package engine

import (
	"errors"
	"testing"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/event"

	"github.com/shopspring/decimal"
)

func lv(price string, qty int64) event.Level {
	return event.Level{Price: decimal.RequireFromString(price), Quantity: event.Qty(qty)}
}

func depth(bids, asks []event.Level) *event.DepthUpdate {
	return &event.DepthUpdate{Bids: bids, Asks: asks}
}

func TestOrderBook_SpreadAndCumulative(t *testing.T) {
	book := NewOrderBook("RELIANCE")

	_, err := book.ApplySnapshot(depth(
		[]event.Level{lv("100", 50), lv("99", 30)},
		[]event.Level{lv("101", 40), lv("102", 20)},
	), time.Now())
	if err != nil {
		t.Fatalf("ApplySnapshot failed: %v", err)
	}

	spread, ok := book.Spread()
	if !ok || !spread.Equal(decimal.NewFromInt(1)) {
		t.Errorf("spread = %v (%v), want 1", spread, ok)
	}

	bids, asks := book.Cumulative(2)
	if len(bids) != 2 || bids[0].Cumulative != 50 || bids[1].Cumulative != 80 {
		t.Errorf("bid cumulative = %+v, want [50 80]", bids)
	}
	if len(asks) != 2 || asks[0].Cumulative != 40 || asks[1].Cumulative != 60 {
		t.Errorf("ask cumulative = %+v, want [40 60]", asks)
	}
}

func TestOrderBook_CrossedRejectedPreviousRetained(t *testing.T) {
	book := NewOrderBook("RELIANCE")

	valid, err := book.ApplySnapshot(depth(
		[]event.Level{lv("100", 50)},
		[]event.Level{lv("101", 40)},
	), time.Now())
	if err != nil {
		t.Fatalf("ApplySnapshot failed: %v", err)
	}

	_, err = book.ApplySnapshot(depth(
		[]event.Level{lv("101", 10)},
		[]event.Level{lv("100", 10)},
	), time.Now())

	var crossed *domain.CrossedBookError
	if !errors.As(err, &crossed) {
		t.Fatalf("Expected CrossedBookError, got %v", err)
	}
	if crossed.Instrument != "RELIANCE" {
		t.Errorf("Instrument = %q", crossed.Instrument)
	}
	if book.Snapshot() != valid {
		t.Error("previous snapshot should remain published")
	}
}

func TestOrderBook_Normalize(t *testing.T) {
	book := NewOrderBook("X")

	snap, err := book.ApplySnapshot(depth(
		[]event.Level{lv("98", 5), lv("100", 1), lv("99", 0), lv("100", 7)},
		[]event.Level{lv("103", 2), lv("101", 4)},
	), time.Now())
	if err != nil {
		t.Fatalf("ApplySnapshot failed: %v", err)
	}

	if len(snap.Bids) != 2 {
		t.Fatalf("bids = %+v, want 2 levels", snap.Bids)
	}
	if !snap.Bids[0].Price.Equal(decimal.NewFromInt(100)) || snap.Bids[0].Quantity != 7 {
		t.Errorf("best bid = %+v, want 100x7", snap.Bids[0])
	}
	if !snap.Asks[0].Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("best ask = %+v, want 101", snap.Asks[0])
	}
}

func TestOrderBook_OneSidedHasNoSpread(t *testing.T) {
	book := NewOrderBook("X")

	if _, ok := book.Spread(); ok {
		t.Error("empty book should have no spread")
	}

	book.ApplySnapshot(depth([]event.Level{lv("100", 1)}, nil), time.Now())
	if _, ok := book.Spread(); ok {
		t.Error("one-sided book should have no spread")
	}
}

func TestOrderBook_Reset(t *testing.T) {
	book := NewOrderBook("OLD")
	book.ApplySnapshot(depth([]event.Level{lv("100", 1)}, []event.Level{lv("101", 1)}), time.Now())

	book.Reset("NEW")
	if book.Snapshot() != nil {
		t.Error("snapshot should be discarded")
	}
	if book.Instrument() != "NEW" {
		t.Errorf("instrument = %q", book.Instrument())
	}
}

func TestOrderBook_NeverCrossedUnderRandomUpdates(t *testing.T) {
	book := NewOrderBook("X")
	updates := []*event.DepthUpdate{
		depth([]event.Level{lv("100", 1)}, []event.Level{lv("101", 1)}),
		depth([]event.Level{lv("102", 1)}, []event.Level{lv("101", 1)}),
		depth([]event.Level{lv("101", 1)}, []event.Level{lv("101", 1)}),
		depth([]event.Level{lv("99", 1), lv("100.5", 2)}, []event.Level{lv("100.55", 1)}),
		depth(nil, []event.Level{lv("90", 1)}),
	}

	for _, u := range updates {
		book.ApplySnapshot(u, time.Now())
		if snap := book.Snapshot(); snap.IsCrossed() {
			t.Fatalf("published crossed snapshot: %+v", snap)
		}
		bids, _ := book.Cumulative(0)
		for i := 1; i < len(bids); i++ {
			if bids[i].Cumulative < bids[i-1].Cumulative {
				t.Fatalf("cumulative decreased: %+v", bids)
			}
		}
	}
}
