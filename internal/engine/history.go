package engine

import (
	"sync"

	"orderflow/internal/domain"
)

// DefaultHistoryCapacity is the number of most recent trades kept for the tape and heatmap.
const DefaultHistoryCapacity = 500

// TradeHistory is a fixed-capacity ring of trades. Once full, each Append evicts the oldest.
type TradeHistory struct {
	mu    sync.RWMutex
	buf   []domain.Trade
	start int // index of the oldest trade
	n     int
}

// NewTradeHistory creates a ring holding at most capacity trades.
func NewTradeHistory(capacity int) *TradeHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &TradeHistory{buf: make([]domain.Trade, capacity)}
}

// Append adds a trade, evicting the oldest when full.
func (h *TradeHistory) Append(t domain.Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = t
		h.n++
		return
	}
	h.buf[h.start] = t
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot copies the trades out, oldest first.
func (h *TradeHistory) Snapshot() []domain.Trade {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.Trade, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the most recent trade.
func (h *TradeHistory) Last() (domain.Trade, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.n == 0 {
		return domain.Trade{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

func (h *TradeHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

func (h *TradeHistory) Cap() int {
	return len(h.buf)
}

// Reset empties the ring.
func (h *TradeHistory) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buf)
	h.start, h.n = 0, 0
}
