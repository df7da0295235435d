package render

import (
	"image/color"
	"os"
	"sync"
	"testing"
	"time"

	"orderflow/internal/domain"

	"github.com/shopspring/decimal"
)

type fakeBook struct {
	mu   sync.Mutex
	snap *domain.OrderBookSnapshot
}

func (b *fakeBook) Snapshot() *domain.OrderBookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

func (b *fakeBook) set(s *domain.OrderBookSnapshot) {
	b.mu.Lock()
	b.snap = s
	b.mu.Unlock()
}

type fakeTrades []domain.Trade

func (f fakeTrades) Snapshot() []domain.Trade { return append([]domain.Trade(nil), f...) }

type fakeState domain.ConnState

func (f fakeState) State() domain.ConnState { return domain.ConnState(f) }

type countingSink struct {
	frames []Frame
}

func (c *countingSink) WriteFrame(f Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func book(instrument string, bid, ask string) *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		InstrumentID: instrument,
		Bids:         []domain.PriceLevel{{Price: d(bid), Quantity: 10}},
		Asks:         []domain.PriceLevel{{Price: d(ask), Quantity: 10}},
	}
}

func smallOptions() Options {
	return Options{Width: 120, Height: 80, TimeWindow: time.Minute}
}

func TestRenderer_PauseSkipsRepaintResumePaintsLatest(t *testing.T) {
	src := &fakeBook{snap: book("RELIANCE", "100", "110")}
	sink := &countingSink{}
	r := NewRenderer(smallOptions(), src, fakeTrades(nil), nil, sink)
	now := time.Now()

	r.SetPaused(true)
	for i := 0; i < 3; i++ {
		if r.Tick(now.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatal("paused tick painted")
		}
	}
	// state keeps changing while paused
	src.set(book("RELIANCE", "200", "210"))
	src.set(book("RELIANCE", "300", "310"))
	if len(sink.frames) != 0 {
		t.Fatalf("frames while paused = %d", len(sink.frames))
	}

	r.SetPaused(false)
	if !r.Tick(now.Add(time.Second)) {
		t.Fatal("unpaused tick did not paint")
	}
	if len(sink.frames) != 1 {
		t.Fatalf("frames after resume = %d, want exactly 1", len(sink.frames))
	}
	pr := sink.frames[0].Config.PriceRange
	if !pr.Min.Equal(d("299")) || !pr.Max.Equal(d("311")) {
		t.Errorf("resumed frame range = %s..%s, want the latest book 299..311", pr.Min, pr.Max)
	}
}

func TestDeriveConfig(t *testing.T) {
	now := time.Now()
	trades := []domain.Trade{
		{Price: d("50"), Quantity: 1, Side: domain.SideBuy, Timestamp: now},
		{Price: d("60"), Quantity: 1, Side: domain.SideSell, Timestamp: now},
	}

	tests := []struct {
		name     string
		snap     *domain.OrderBookSnapshot
		trades   []domain.Trade
		ok       bool
		min, max string
	}{
		{"book extremes padded 10%", book("X", "100", "110"), trades, true, "99", "111"},
		{"falls back to trades", nil, trades, true, "49", "61"},
		{"single price", nil, trades[:1], true, "49.75", "50.25"},
		{"nothing to draw", nil, nil, false, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, ok := DeriveConfig(tt.snap, tt.trades, time.Minute, domain.PaletteNeon, domain.SizeLarge)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if !cfg.PriceRange.Min.Equal(d(tt.min)) || !cfg.PriceRange.Max.Equal(d(tt.max)) {
				t.Errorf("range = %s..%s, want %s..%s", cfg.PriceRange.Min, cfg.PriceRange.Max, tt.min, tt.max)
			}
			if cfg.Palette != domain.PaletteNeon || cfg.SizeClass != domain.SizeLarge || cfg.TimeWindow != time.Minute {
				t.Errorf("cfg = %+v", cfg)
			}
		})
	}
}

func TestDiscRadius_ClampedToSizeClass(t *testing.T) {
	for _, size := range []domain.SizeClass{domain.SizeSmall, domain.SizeMedium, domain.SizeLarge} {
		lo, hi := size.RadiusBand()
		if got := DiscRadius(0, 100, size); got != lo {
			t.Errorf("%s: radius(0) = %v, want %v", size, got, lo)
		}
		if got := DiscRadius(100, 100, size); got != hi {
			t.Errorf("%s: radius(max) = %v, want %v", size, got, hi)
		}
		if got := DiscRadius(500, 100, size); got != hi {
			t.Errorf("%s: radius above max = %v, want %v", size, got, hi)
		}
		mid := DiscRadius(50, 100, size)
		if mid <= lo || mid >= hi {
			t.Errorf("%s: radius(50%%) = %v outside (%v, %v)", size, mid, lo, hi)
		}
	}
}

func TestDiscAlpha(t *testing.T) {
	capQty := decimal.NewFromInt(1000)

	if got := DiscAlpha(1000, capQty); got != 255 {
		t.Errorf("alpha at cap = %d", got)
	}
	if got := DiscAlpha(5000, capQty); got != 255 {
		t.Errorf("alpha above cap = %d", got)
	}
	if got := DiscAlpha(1, capQty); got != 38 {
		t.Errorf("alpha floor = %d", got)
	}
	if DiscAlpha(500, capQty) <= DiscAlpha(200, capQty) {
		t.Error("alpha should grow with quantity")
	}
}

func TestViewport_Mapping(t *testing.T) {
	now := time.Now()
	cfg := domain.HeatmapConfig{
		PriceRange: domain.PriceRange{Min: d("100"), Max: d("200")},
		TimeWindow: time.Minute,
	}
	opts := Options{Width: 101, Height: 101, DepthStripPct: 0}
	vp := newViewport(cfg, now, opts)

	if y := vp.Y(d("200")); y != 0 {
		t.Errorf("Y(max) = %v, want 0", y)
	}
	if y := vp.Y(d("100")); y != 100 {
		t.Errorf("Y(min) = %v, want 100", y)
	}
	if x := vp.X(now); x != 100 {
		t.Errorf("X(now) = %v, want 100", x)
	}
	if x := vp.X(now.Add(-time.Minute)); x != 0 {
		t.Errorf("X(window start) = %v, want 0", x)
	}
	if x := vp.X(now.Add(-30 * time.Second)); x != 50 {
		t.Errorf("X(mid) = %v, want 50", x)
	}
}

func TestRenderer_EmptyStateIsBackgroundOnly(t *testing.T) {
	r := NewRenderer(smallOptions(), &fakeBook{}, fakeTrades(nil), fakeState(domain.StateConnected), nil)

	frame := r.Paint(time.Now())
	if !frame.Empty {
		t.Error("frame with no data should be marked empty")
	}

	bg := SchemeFor(domain.PaletteClassic).Background
	b := frame.Image.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 7 {
		for x := b.Min.X; x < b.Max.X; x += 7 {
			if got := frame.Image.NRGBAAt(x, y); got != bg {
				t.Fatalf("pixel (%d,%d) = %v, want background %v", x, y, got, bg)
			}
		}
	}
}

func TestRenderer_DegradedOverlay(t *testing.T) {
	bg := SchemeFor(domain.PaletteClassic).Background

	tests := []struct {
		state   domain.ConnState
		overlay bool
	}{
		{domain.StateConnected, false},
		{domain.StateReconnecting, true},
		{domain.StateClosed, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			r := NewRenderer(smallOptions(), &fakeBook{}, fakeTrades(nil), fakeState(tt.state), nil)
			frame := r.Paint(time.Now())
			got := frame.Image.NRGBAAt(5, 5) != bg
			if got != tt.overlay {
				t.Errorf("overlay drawn = %v, want %v", got, tt.overlay)
			}
		})
	}
}

func TestRenderer_DrawsTradesAndGuide(t *testing.T) {
	now := time.Now()
	trades := fakeTrades{
		{Price: d("105"), Quantity: 1000, Side: domain.SideBuy, Timestamp: now.Add(-30 * time.Second)},
	}
	opts := Options{Width: 121, Height: 81, TimeWindow: time.Minute, DepthStripPct: 0}
	r := NewRenderer(opts, &fakeBook{snap: book("X", "100", "110")}, trades, nil, nil)

	frame := r.Paint(now)
	vp := newViewport(frame.Config, now, r.opts)

	// a few rows below the center, clear of the guide line through it
	x, y := int(vp.X(trades[0].Timestamp)), int(vp.Y(trades[0].Price))+5
	if got := frame.Image.NRGBAAt(x, y); !sameRGB(got, SchemeFor(domain.PaletteClassic).Buy) {
		t.Errorf("disc center = %v, want buy color", got)
	}

	// guide line falls back to the last trade when the book has none
	gy := int(vp.Y(d("105")))
	found := false
	for gx := 0; gx < 20; gx++ {
		if sameRGB(frame.Image.NRGBAAt(gx, gy), SchemeFor(domain.PaletteClassic).Guide) {
			found = true
			break
		}
	}
	if !found {
		t.Error("last-trade guide line not drawn")
	}
}

func TestRenderer_DiscScaleUsesWholeHistory(t *testing.T) {
	now := time.Now()
	small := domain.Trade{Price: d("105"), Quantity: 10, Side: domain.SideBuy, Timestamp: now.Add(-30 * time.Second)}
	bigOld := domain.Trade{Price: d("105"), Quantity: 1000, Side: domain.SideSell, Timestamp: now.Add(-10 * time.Minute)}

	discHeight := func(history fakeTrades) int {
		opts := Options{Width: 121, Height: 81, TimeWindow: time.Minute}
		r := NewRenderer(opts, &fakeBook{}, history, nil, nil)
		frame := r.Paint(now)
		vp := newViewport(frame.Config, now, r.opts)

		bg := SchemeFor(domain.PaletteClassic).Background
		x := int(vp.X(small.Timestamp))
		rows := 0
		for y := 0; y < opts.Height; y++ {
			if frame.Image.NRGBAAt(x, y) != bg {
				rows++
			}
		}
		return rows
	}

	alone := discHeight(fakeTrades{small})
	dwarfed := discHeight(fakeTrades{bigOld, small})
	if dwarfed >= alone {
		t.Errorf("disc rows with a larger print in history = %d, alone = %d; want smaller", dwarfed, alone)
	}

	if got := maxQuantity(fakeTrades{bigOld, small}); got != 1000 {
		t.Errorf("maxQuantity = %d, want 1000", got)
	}
}

func TestRenderer_SpreadPlaceholder(t *testing.T) {
	oneSided := &domain.OrderBookSnapshot{
		InstrumentID: "X",
		Bids:         []domain.PriceLevel{{Price: d("100"), Quantity: 5}, {Price: d("90"), Quantity: 5}},
	}
	opts := Options{Width: 200, Height: 100, TimeWindow: time.Minute, DepthStripPct: 10}
	r := NewRenderer(opts, &fakeBook{snap: oneSided}, fakeTrades(nil), nil, nil)

	frame := r.Paint(time.Now())
	// diamond sits in the middle of the strip
	if got := frame.Image.NRGBAAt(190, 50); !sameRGB(got, SchemeFor(domain.PaletteClassic).Neutral) {
		t.Errorf("placeholder pixel = %v, want neutral", got)
	}
}

func sameRGB(a, b color.NRGBA) bool {
	return a.R == b.R && a.G == b.G && a.B == b.B
}

func TestPNGSink_WritesEveryNth(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewPNGSink(dir, 60, 40, 2)
	if err != nil {
		t.Fatalf("NewPNGSink failed: %v", err)
	}

	r := NewRenderer(smallOptions(), &fakeBook{snap: book("NSE:RELIANCE", "100", "110")}, fakeTrades(nil), nil, sink)

	r.Tick(time.Now())
	path := sink.Path("NSE:RELIANCE")
	if _, err := os.Stat(path); err == nil {
		t.Fatal("first frame should be skipped with everyN=2")
	}

	r.Tick(time.Now())
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("second frame not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("empty png")
	}
	if want := "nsereliance.png"; info.Name() != want {
		t.Errorf("file = %s, want %s", info.Name(), want)
	}
}

func TestLatestFrameAndMultiSink(t *testing.T) {
	latest := &LatestFrame{}
	counter := &countingSink{}
	r := NewRenderer(smallOptions(), &fakeBook{}, fakeTrades(nil), nil, MultiSink{latest, counter})

	if _, ok := latest.Latest(); ok {
		t.Error("no frame expected yet")
	}
	r.Tick(time.Now())
	r.Tick(time.Now())

	f, ok := latest.Latest()
	if !ok || f.Seq != 2 {
		t.Errorf("latest seq = %d (%v), want 2", f.Seq, ok)
	}
	if len(counter.frames) != 2 {
		t.Errorf("fan-out frames = %d", len(counter.frames))
	}
}
