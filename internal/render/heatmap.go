package render

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/infra"

	"github.com/disintegration/imaging"
	"github.com/shopspring/decimal"
)

// BookSource yields the latest published order book snapshot.
type BookSource interface {
	Snapshot() *domain.OrderBookSnapshot
}

// TradeSource yields a copy of the bounded trade history, oldest first.
type TradeSource interface {
	Snapshot() []domain.Trade
}

// StateSource yields the connection state.
type StateSource interface {
	State() domain.ConnState
}

// Options configures the renderer.
type Options struct {
	FPS           int
	Width         int
	Height        int
	TimeWindow    time.Duration
	Palette       domain.Palette
	SizeClass     domain.SizeClass
	IntensityCap  decimal.Decimal // quantity at which a disc is fully opaque
	DepthStripPct int             // right-edge depth strip width, percent of width
}

func (o *Options) applyDefaults() {
	if o.FPS <= 0 {
		o.FPS = 10
	}
	if o.Width <= 0 {
		o.Width = 960
	}
	if o.Height <= 0 {
		o.Height = 540
	}
	if o.TimeWindow <= 0 {
		o.TimeWindow = 5 * time.Minute
	}
	if o.Palette == "" {
		o.Palette = domain.PaletteClassic
	}
	if o.SizeClass == "" {
		o.SizeClass = domain.SizeMedium
	}
	if !o.IntensityCap.IsPositive() {
		o.IntensityCap = decimal.NewFromInt(1000)
	}
	if o.DepthStripPct < 0 || o.DepthStripPct > 50 {
		o.DepthStripPct = 8
	}
}

const (
	pricePadding   = 0.10
	minAlpha       = 0.15
	overlayHeight  = 24
	bucketRowPx    = 3
	maxBucketCells = 20000
)

// Renderer paints the time/price heatmap at a fixed frame rate.
// It only reads engine state; it never blocks on the feed.
type Renderer struct {
	opts    Options
	book    BookSource
	trades  TradeSource
	state   StateSource
	sink    FrameSink
	metrics *infra.Metrics

	paused atomic.Bool
	seq    atomic.Uint64

	mu      sync.Mutex
	buckets []domain.TradeBucket
	scheme  Scheme
	size    domain.SizeClass
}

// NewRenderer creates a renderer. state and sink may be nil.
func NewRenderer(opts Options, book BookSource, trades TradeSource, state StateSource, sink FrameSink) *Renderer {
	opts.applyDefaults()
	return &Renderer{
		opts:    opts,
		book:    book,
		trades:  trades,
		state:   state,
		sink:    sink,
		metrics: infra.GlobalMetrics,
		scheme:  SchemeFor(opts.Palette),
		size:    opts.SizeClass,
	}
}

// SetPaused freezes or resumes repainting. The clock keeps ticking while paused.
func (r *Renderer) SetPaused(p bool) {
	if r.paused.Swap(p) != p {
		slog.Info("Renderer pause toggled", slog.Bool("paused", p))
	}
}

func (r *Renderer) Paused() bool {
	return r.paused.Load()
}

// SetPalette switches the color scheme from the next frame on.
func (r *Renderer) SetPalette(p domain.Palette) {
	r.mu.Lock()
	r.opts.Palette = p
	r.scheme = SchemeFor(p)
	r.mu.Unlock()
}

// SetSizeClass switches the disc radius band from the next frame on.
func (r *Renderer) SetSizeClass(c domain.SizeClass) {
	r.mu.Lock()
	r.opts.SizeClass = c
	r.size = c
	r.mu.Unlock()
}

// AddBuckets keeps closed aggregator buckets for the intensity layer.
func (r *Renderer) AddBuckets(buckets []domain.TradeBucket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets = append(r.buckets, buckets...)
	if over := len(r.buckets) - maxBucketCells; over > 0 {
		r.buckets = append(r.buckets[:0:0], r.buckets[over:]...)
	}
}

// ClearBuckets drops the intensity layer, e.g. on instrument change.
func (r *Renderer) ClearBuckets() {
	r.mu.Lock()
	r.buckets = nil
	r.mu.Unlock()
}

// Run ticks at the configured frame rate until ctx is done.
func (r *Renderer) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.opts.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Renderer started", slog.Int("fps", r.opts.FPS), slog.Duration("window", r.opts.TimeWindow))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			r.Tick(now)
		}
	}
}

// Tick paints one frame unless paused. It reports whether a frame was painted.
// A paused tick does nothing; the first unpaused tick paints the latest state.
func (r *Renderer) Tick(now time.Time) bool {
	if r.paused.Load() {
		r.metrics.RecordSkip()
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Render panic recovered", slog.Any("panic", rec))
		}
	}()

	frame := r.Paint(now)
	r.metrics.RecordRender()

	if r.sink != nil {
		if err := r.sink.WriteFrame(frame); err != nil {
			slog.Warn("Frame sink failed", slog.Any("error", err))
		}
	}
	return true
}

// Paint renders the current state into a new frame.
func (r *Renderer) Paint(now time.Time) Frame {
	r.mu.Lock()
	scheme, size, opts := r.scheme, r.size, r.opts
	buckets := append([]domain.TradeBucket(nil), r.buckets...)
	r.mu.Unlock()

	snap := r.book.Snapshot()
	history := r.trades.Snapshot()
	trades := visibleTrades(history, now, opts.TimeWindow)

	cfg, ok := DeriveConfig(snap, trades, opts.TimeWindow, opts.Palette, size)
	canvas := imaging.New(opts.Width, opts.Height, scheme.Background)

	frame := Frame{
		Image:  canvas,
		Config: cfg,
		At:     now,
		Seq:    r.seq.Add(1),
		Empty:  !ok,
	}
	if snap != nil {
		frame.Instrument = snap.InstrumentID
	}

	if ok {
		vp := newViewport(cfg, now, opts)
		paintSpread(canvas, vp, snap, scheme)
		paintBuckets(canvas, vp, buckets, scheme, opts)
		paintTrades(canvas, vp, trades, maxQuantity(history), scheme, size, opts)
		paintDepth(canvas, vp, snap, scheme)
		paintGuide(canvas, vp, snap, trades, scheme)
	}

	if r.state != nil {
		if st := r.state.State(); st.Degraded() {
			paintOverlay(canvas, st, scheme)
		}
	}
	return frame
}

// DeriveConfig computes the frame config. The price domain is the book's bid/ask
// extremes padded by 10%, falling back to trade extremes when the book is empty.
// ok is false when there is nothing to scale against.
func DeriveConfig(snap *domain.OrderBookSnapshot, trades []domain.Trade, window time.Duration,
	palette domain.Palette, size domain.SizeClass) (domain.HeatmapConfig, bool) {

	cfg := domain.HeatmapConfig{TimeWindow: window, Palette: palette, SizeClass: size}

	lo, hi, ok := snap.PriceExtremes()
	if !ok {
		lo, hi, ok = tradeExtremes(trades)
	}
	if !ok {
		return cfg, false
	}

	pad := hi.Sub(lo).Mul(decimal.NewFromFloat(pricePadding))
	if pad.IsZero() {
		// single price: open a band of 0.5% around it
		pad = hi.Mul(decimal.NewFromFloat(0.005))
		if pad.IsZero() {
			pad = decimal.NewFromInt(1)
		}
	}
	cfg.PriceRange = domain.PriceRange{Min: lo.Sub(pad), Max: hi.Add(pad)}
	return cfg, true
}

func tradeExtremes(trades []domain.Trade) (lo, hi decimal.Decimal, ok bool) {
	for i, t := range trades {
		if i == 0 {
			lo, hi = t.Price, t.Price
			continue
		}
		lo = decimal.Min(lo, t.Price)
		hi = decimal.Max(hi, t.Price)
	}
	return lo, hi, len(trades) > 0
}

func visibleTrades(all []domain.Trade, now time.Time, window time.Duration) []domain.Trade {
	from := now.Add(-window)
	out := all[:0:0]
	for _, t := range all {
		if !t.Timestamp.Before(from) && !t.Timestamp.After(now) {
			out = append(out, t)
		}
	}
	return out
}

// viewport maps time and price to pixels.
type viewport struct {
	from       time.Time
	window     time.Duration
	plotWidth  int
	height     int
	min, span  float64
	stripStart int
	width      int
}

func newViewport(cfg domain.HeatmapConfig, now time.Time, opts Options) viewport {
	strip := opts.Width * opts.DepthStripPct / 100
	lo := cfg.PriceRange.Min.InexactFloat64()
	hi := cfg.PriceRange.Max.InexactFloat64()
	return viewport{
		from:       now.Add(-cfg.TimeWindow),
		window:     cfg.TimeWindow,
		plotWidth:  opts.Width - strip,
		height:     opts.Height,
		min:        lo,
		span:       hi - lo,
		stripStart: opts.Width - strip,
		width:      opts.Width,
	}
}

// X maps a time inside the window to a column of the plot area.
func (v viewport) X(t time.Time) float64 {
	frac := float64(t.Sub(v.from)) / float64(v.window)
	return frac * float64(v.plotWidth-1)
}

// Y maps a price to a row; higher prices are nearer the top.
func (v viewport) Y(price decimal.Decimal) float64 {
	if v.span <= 0 {
		return float64(v.height) / 2
	}
	frac := (price.InexactFloat64() - v.min) / v.span
	return (1 - frac) * float64(v.height-1)
}

// DiscRadius scales qty against the largest quantity in the trade history, clamped to the size class band.
func DiscRadius(qty, maxQty int64, size domain.SizeClass) float64 {
	lo, hi := size.RadiusBand()
	if maxQty <= 0 {
		return lo
	}
	return lo + (hi-lo)*clamp01(float64(qty)/float64(maxQty))
}

// DiscAlpha maps qty against the normalization cap to an opacity in [minAlpha, 1].
func DiscAlpha(qty int64, intensityCap decimal.Decimal) uint8 {
	capF := intensityCap.InexactFloat64()
	if capF <= 0 {
		return 255
	}
	a := math.Max(minAlpha, clamp01(float64(qty)/capF))
	return uint8(math.Round(a * 255))
}

func paintBuckets(canvas *image.NRGBA, vp viewport, buckets []domain.TradeBucket, s Scheme, opts Options) {
	capF := opts.IntensityCap.InexactFloat64()
	for _, b := range buckets {
		if b.WindowStart.Before(vp.from) || b.TotalVolume <= 0 {
			continue
		}
		x := int(vp.X(b.WindowStart))
		y := int(vp.Y(b.Price))
		col := s.Buy
		if b.SellVolume > b.BuyVolume {
			col = s.Sell
		}
		// cells stay faint so discs remain readable on top
		a := 0.35 * clamp01(float64(b.TotalVolume)/capF)
		fillRect(canvas, image.Rect(x, y-bucketRowPx/2, x+2, y+bucketRowPx/2+1), withAlpha(col, uint8(a*255)))
	}
}

// maxQuantity scans the whole history so disc sizes do not jump as large prints scroll out of view.
func maxQuantity(trades []domain.Trade) int64 {
	var m int64
	for _, t := range trades {
		m = max(m, t.Quantity)
	}
	return m
}

func paintTrades(canvas *image.NRGBA, vp viewport, trades []domain.Trade, maxQty int64, s Scheme, size domain.SizeClass, opts Options) {
	for _, t := range trades {
		col := withAlpha(s.SideColor(t.Side), DiscAlpha(t.Quantity, opts.IntensityCap))
		fillDisc(canvas, vp.X(t.Timestamp), vp.Y(t.Price), DiscRadius(t.Quantity, maxQty, size), col)
	}
}

// paintSpread shades the band between best bid and best ask, or puts a neutral
// marker in the depth strip when the spread is undefined.
func paintSpread(canvas *image.NRGBA, vp viewport, snap *domain.OrderBookSnapshot, s Scheme) {
	bid, okBid := snap.BestBid()
	ask, okAsk := snap.BestAsk()
	if okBid && okAsk {
		top, bottom := int(vp.Y(ask.Price)), int(vp.Y(bid.Price))
		fillRect(canvas, image.Rect(0, top, vp.plotWidth, bottom+1), withAlpha(s.Neutral, 40))
		return
	}
	cx := vp.stripStart + (vp.width-vp.stripStart)/2
	if vp.width == vp.stripStart {
		cx = vp.plotWidth - 6
	}
	diamond(canvas, cx, vp.height/2, 4, s.Neutral)
}

// paintDepth draws resting book quantity as bars in the right-edge strip.
func paintDepth(canvas *image.NRGBA, vp viewport, snap *domain.OrderBookSnapshot, s Scheme) {
	stripW := vp.width - vp.stripStart
	if stripW <= 0 {
		return
	}
	fillRect(canvas, image.Rect(vp.stripStart, 0, vp.stripStart+1, vp.height), withAlpha(s.Neutral, 90))
	if snap == nil {
		return
	}

	var maxQty int64
	for _, l := range snap.Bids {
		maxQty = max(maxQty, l.Quantity)
	}
	for _, l := range snap.Asks {
		maxQty = max(maxQty, l.Quantity)
	}
	bar := func(levels []domain.PriceLevel, col color.NRGBA) {
		for _, l := range levels {
			y := int(vp.Y(l.Price))
			w := int(float64(stripW-2) * clamp01(float64(l.Quantity)/float64(max(maxQty, 1))))
			fillRect(canvas, image.Rect(vp.width-w, y-1, vp.width, y+1), withAlpha(col, 200))
		}
	}
	bar(snap.Bids, s.Buy)
	bar(snap.Asks, s.Sell)
}

func paintGuide(canvas *image.NRGBA, vp viewport, snap *domain.OrderBookSnapshot, trades []domain.Trade, s Scheme) {
	var price decimal.Decimal
	switch {
	case snap != nil && snap.LastTrade != nil:
		price = snap.LastTrade.Price
	case len(trades) > 0:
		price = trades[len(trades)-1].Price
	default:
		return
	}
	hline(canvas, 0, vp.plotWidth, int(vp.Y(price)), 1, 6, s.Guide)
}

// paintOverlay draws the persistent reconnecting/disconnected band.
func paintOverlay(canvas *image.NRGBA, st domain.ConnState, s Scheme) {
	col := s.Degraded
	if st == domain.StateClosed {
		col = s.Fatal
	}
	band := imaging.New(canvas.Bounds().Dx(), overlayHeight, col)
	*canvas = *imaging.Overlay(canvas, band, image.Pt(0, 0), 0.7)
}
