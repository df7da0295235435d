package engine

import (
	"testing"

	"orderflow/internal/domain"

	"github.com/shopspring/decimal"
)

func TestTradeHistory_EvictsOldest(t *testing.T) {
	h := NewTradeHistory(3)

	for i := int64(1); i <= 5; i++ {
		h.Append(domain.Trade{Price: decimal.NewFromInt(100), Quantity: i, Side: domain.SideBuy})
	}

	got := h.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []int64{3, 4, 5} {
		if got[i].Quantity != want {
			t.Errorf("snapshot[%d].Quantity = %d, want %d", i, got[i].Quantity, want)
		}
	}

	last, ok := h.Last()
	if !ok || last.Quantity != 5 {
		t.Errorf("Last = %+v", last)
	}
}

func TestTradeHistory_DefaultCapacity(t *testing.T) {
	h := NewTradeHistory(0)
	if h.Cap() != 500 {
		t.Errorf("cap = %d, want 500", h.Cap())
	}

	for i := 0; i < 600; i++ {
		h.Append(domain.Trade{Quantity: int64(i)})
	}
	if h.Len() != 500 {
		t.Errorf("len = %d, want 500", h.Len())
	}
	if s := h.Snapshot(); s[0].Quantity != 100 {
		t.Errorf("oldest = %d, want 100", s[0].Quantity)
	}
}

func TestTradeHistory_SnapshotIsCopy(t *testing.T) {
	h := NewTradeHistory(2)
	h.Append(domain.Trade{Quantity: 1})

	s := h.Snapshot()
	s[0].Quantity = 99

	if h.Snapshot()[0].Quantity != 1 {
		t.Error("mutating a snapshot must not affect the ring")
	}

	h.Reset()
	if h.Len() != 0 {
		t.Error("Reset should empty the ring")
	}
	if _, ok := h.Last(); ok {
		t.Error("Last on empty ring should report false")
	}
}
