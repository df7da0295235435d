package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/event"

	"github.com/shopspring/decimal"
)

// Preference keys persisted between sessions
const (
	PrefInstrument = "last_instrument"
	PrefTimeframe  = "timeframe"
	PrefPalette    = "palette"
	PrefSizeClass  = "size_class"
)

const defaultSearchLimit = 20

// Connection is the part of the connection supervisor the session drives.
type Connection interface {
	State() domain.ConnState
	Send(data []byte) error
	Reconnect(ctx context.Context) error
	Latency() (time.Duration, bool)
}

// InstrumentResetter clears book, aggregator and history before the next frame is processed.
type InstrumentResetter interface {
	ResetInstrument(ctx context.Context, instrument string) error
}

// Display is the part of the renderer the session controls.
type Display interface {
	SetPaused(paused bool)
	Paused() bool
	ClearBuckets()
	SetPalette(p domain.Palette)
	SetSizeClass(c domain.SizeClass)
}

// HistoricalFeed takes over while the live market is closed.
type HistoricalFeed interface {
	Activate(instrument, timeframe string)
	Deactivate()
	HandleOffMarketData(data *event.OffMarketData)
}

// SymbolDirectory receives symbol search results.
type SymbolDirectory interface {
	HandleSearchResults(results *event.SymbolSearchResults)
}

// Status is a point-in-time view of the session for status reporting.
type Status struct {
	Instrument string           `json:"instrument"`
	Confirmed  bool             `json:"confirmed"`
	DataMode   string           `json:"data_mode,omitempty"`
	Timeframe  string           `json:"timeframe"`
	MarketOpen bool             `json:"market_open"`
	Paused     bool             `json:"paused"`
	State      string           `json:"state"`
	Latency    time.Duration    `json:"latency"`
	LastPrice  *decimal.Decimal `json:"last_price,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	Fatal      string           `json:"fatal,omitempty"`
}

// SessionOption configures optional collaborators.
type SessionOption func(*Session)

func WithHistoricalFeed(h HistoricalFeed) SessionOption   { return func(s *Session) { s.historical = h } }
func WithSymbolDirectory(d SymbolDirectory) SessionOption { return func(s *Session) { s.directory = d } }
func WithPreferences(p domain.PreferenceStore) SessionOption {
	return func(s *Session) { s.prefs = p }
}

// WithMarketOpen sets the initial market guess used until the feed reports market_status.
func WithMarketOpen(open bool) SessionOption { return func(s *Session) { s.marketOpen = open } }

// Session owns the user-facing controls: instrument, timeframe, pause, reconnect.
// Feed-side notifications arrive on the pipeline goroutine; controls arrive from callers.
type Session struct {
	conn       Connection
	resetter   InstrumentResetter
	display    Display
	historical HistoricalFeed
	directory  SymbolDirectory
	prefs      domain.PreferenceStore

	opMu sync.Mutex // serializes instrument switches

	mu         sync.RWMutex
	instrument string
	confirmed  bool
	dataMode   string
	timeframe  string
	marketOpen bool
	reported   bool // the feed has sent market_status at least once
	historyOn  bool
	lastPrice  *decimal.Decimal
	lastErr    string
	fatal      error
}

// NewSession creates a session controller.
func NewSession(conn Connection, resetter InstrumentResetter, display Display, timeframe string, opts ...SessionOption) *Session {
	s := &Session{
		conn:       conn,
		resetter:   resetter,
		display:    display,
		timeframe:  timeframe,
		marketOpen: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PreferredInstrument returns the instrument saved by a previous session, or fallback.
func (s *Session) PreferredInstrument(fallback string) string {
	if s.prefs == nil {
		return fallback
	}
	prefs, err := s.prefs.LoadPreferences()
	if err != nil {
		slog.Warn("Failed to load preferences", slog.Any("error", err))
		return fallback
	}
	if v := prefs[PrefInstrument]; v != "" {
		return v
	}
	return fallback
}

// SelectInstrument switches the live instrument. It is rejected, not queued, unless connected.
// Engine state is reset before any frame of the new subscription can be processed.
func (s *Session) SelectInstrument(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ErrInvalidSymbol
	}
	if st := s.conn.State(); st != domain.StateConnected {
		return fmt.Errorf("select %s while %s: %w", id, st, domain.ErrNotConnected)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	old := s.instrument
	s.mu.RUnlock()

	if err := s.resetter.ResetInstrument(ctx, id); err != nil {
		return fmt.Errorf("failed to reset engine for %s: %w", id, err)
	}
	if s.display != nil {
		s.display.ClearBuckets()
	}

	s.mu.Lock()
	s.instrument, s.confirmed, s.dataMode, s.lastPrice, s.lastErr = id, false, "", nil, ""
	s.mu.Unlock()

	if old != "" && !strings.EqualFold(old, id) {
		if err := s.send(event.Unsubscribe(old)); err != nil {
			return err
		}
	}
	if err := s.send(event.ChangeSymbol(id)); err != nil {
		return err
	}

	slog.Info("🔀 Instrument selected", slog.String("from", old), slog.String("to", id))

	s.mu.RLock()
	open, timeframe := s.marketOpen, s.timeframe
	s.mu.RUnlock()
	if !open {
		s.syncHistorical(false, id, timeframe)
	}
	return nil
}

// SetPaused freezes or resumes the heatmap.
func (s *Session) SetPaused(paused bool) {
	if s.display != nil {
		s.display.SetPaused(paused)
	}
}

// SetTimeframe forwards a timeframe change to the feed.
func (s *Session) SetTimeframe(ctx context.Context, timeframe string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeframe = strings.TrimSpace(timeframe)
	if timeframe == "" {
		return errors.New("empty timeframe")
	}
	if st := s.conn.State(); st != domain.StateConnected {
		return fmt.Errorf("change timeframe while %s: %w", st, domain.ErrNotConnected)
	}
	if err := s.send(event.ChangeTimeframe(timeframe)); err != nil {
		return err
	}

	s.mu.Lock()
	s.timeframe = timeframe
	open, instrument := s.marketOpen, s.instrument
	s.mu.Unlock()
	s.savePreference(PrefTimeframe, timeframe)

	if !open {
		s.syncHistorical(false, instrument, timeframe)
	}
	return nil
}

// SetPalette switches the heatmap color scheme and remembers it for the next session.
func (s *Session) SetPalette(name string) error {
	p, err := domain.ParsePalette(strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if s.display != nil {
		s.display.SetPalette(p)
	}
	s.savePreference(PrefPalette, string(p))
	return nil
}

// SetSizeClass switches the trade disc size band and remembers it for the next session.
func (s *Session) SetSizeClass(name string) error {
	c, err := domain.ParseSizeClass(strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if s.display != nil {
		s.display.SetSizeClass(c)
	}
	s.savePreference(PrefSizeClass, string(c))
	return nil
}

// RestorePreferences applies the display settings saved by a previous session.
// Unknown saved values are ignored and the configured defaults stay in effect.
func (s *Session) RestorePreferences() {
	if s.prefs == nil || s.display == nil {
		return
	}
	prefs, err := s.prefs.LoadPreferences()
	if err != nil {
		slog.Warn("Failed to load preferences", slog.Any("error", err))
		return
	}
	if v, ok := prefs[PrefPalette]; ok {
		if p, err := domain.ParsePalette(v); err == nil {
			s.display.SetPalette(p)
		} else {
			slog.Warn("Ignoring saved palette", slog.String("value", v))
		}
	}
	if v, ok := prefs[PrefSizeClass]; ok {
		if c, err := domain.ParseSizeClass(v); err == nil {
			s.display.SetSizeClass(c)
		} else {
			slog.Warn("Ignoring saved size class", slog.String("value", v))
		}
	}
}

// SearchSymbols asks the feed for matching instruments; results go to the symbol directory.
func (s *Session) SearchSymbols(ctx context.Context, query string, limit int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return errors.New("empty search query")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if st := s.conn.State(); st != domain.StateConnected {
		return fmt.Errorf("search while %s: %w", st, domain.ErrNotConnected)
	}
	return s.send(event.SearchSymbols(query, limit))
}

// Reconnect is the manual recovery path, including out of Closed.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.conn.Reconnect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.fatal = nil
	s.mu.Unlock()
	return nil
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		Instrument: s.instrument,
		Confirmed:  s.confirmed,
		DataMode:   s.dataMode,
		Timeframe:  s.timeframe,
		MarketOpen: s.marketOpen,
		LastPrice:  s.lastPrice,
		LastError:  s.lastErr,
	}
	if s.fatal != nil {
		st.Fatal = s.fatal.Error()
	}
	s.mu.RUnlock()

	st.State = s.conn.State().String()
	if d, ok := s.conn.Latency(); ok {
		st.Latency = d
	}
	if s.display != nil {
		st.Paused = s.display.Paused()
	}
	return st
}

// Instrument returns the active instrument.
func (s *Session) Instrument() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instrument
}

func (s *Session) send(c event.Control) error {
	data, err := c.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.Type, err)
	}
	if err := s.conn.Send(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", c.Type, err)
	}
	return nil
}

func (s *Session) savePreference(key, value string) {
	if s.prefs == nil {
		return
	}
	if err := s.prefs.SavePreference(key, value); err != nil {
		slog.Warn("Failed to save preference", slog.String("key", key), slog.Any("error", err))
	}
}

// --- feed notifications (pipeline goroutine) ---

// OnMarketStatus hands control to the historical feed while the market is closed.
// The first report always hands over, whatever the local market-hours guess was.
func (s *Session) OnMarketStatus(open bool) {
	s.mu.Lock()
	changed := !s.reported || s.marketOpen != open
	s.reported = true
	s.marketOpen = open
	instrument, timeframe := s.instrument, s.timeframe
	s.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("📅 Market status changed", slog.Bool("open", open), slog.String("instrument", instrument))
	s.syncHistorical(open, instrument, timeframe)
}

// syncHistorical activates the historical feed for instrument while the market is
// closed and deactivates it once it is open again.
func (s *Session) syncHistorical(open bool, instrument, timeframe string) {
	if s.historical == nil {
		return
	}
	activate := !open && instrument != ""

	s.mu.Lock()
	wasOn := s.historyOn
	s.historyOn = activate
	s.mu.Unlock()

	switch {
	case activate:
		s.historical.Activate(instrument, timeframe)
	case wasOn:
		s.historical.Deactivate()
	}
}

func (s *Session) OnSymbolChanged(m *event.SymbolChanged) {
	s.mu.Lock()
	if !strings.EqualFold(m.Symbol, s.instrument) {
		s.mu.Unlock()
		slog.Warn("Ignoring confirmation for inactive instrument",
			slog.String("symbol", m.Symbol), slog.String("active", s.Instrument()))
		return
	}
	s.confirmed = true
	s.dataMode = m.DataMode
	s.lastErr = ""
	s.mu.Unlock()

	slog.Info("✅ Instrument confirmed", slog.String("symbol", m.Symbol), slog.String("mode", m.DataMode))
	s.savePreference(PrefInstrument, m.Symbol)
}

func (s *Session) OnSymbolError(m *event.SymbolError) {
	s.mu.Lock()
	s.lastErr = fmt.Sprintf("%s: %s", m.Symbol, m.Message)
	if strings.EqualFold(m.Symbol, s.instrument) {
		s.confirmed = false
	}
	s.mu.Unlock()

	slog.Warn("Instrument rejected by feed", slog.String("symbol", m.Symbol), slog.String("message", m.Message))
}

func (s *Session) OnQuote(m *event.QuoteUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Symbol != "" && !strings.EqualFold(m.Symbol, s.instrument) {
		return
	}
	p := m.LTP
	s.lastPrice = &p
}

func (s *Session) OnOffMarketData(m *event.OffMarketData) {
	if s.historical == nil {
		slog.Debug("Dropping off-market data without historical feed", slog.String("symbol", m.Symbol))
		return
	}
	s.historical.HandleOffMarketData(m)
}

func (s *Session) OnSearchResults(m *event.SymbolSearchResults) {
	if s.directory == nil {
		return
	}
	s.directory.HandleSearchResults(m)
}

// --- connection notifications (supervisor observer) ---

// OnStateChange keeps the fatal connectivity error as a persistent status and
// resubscribes the active instrument after a reconnect.
func (s *Session) OnStateChange(change domain.StateChange) {
	var fatal *domain.FatalConnectivityError
	switch {
	case change.To == domain.StateClosed && errors.As(change.Err, &fatal):
		s.mu.Lock()
		s.fatal = fatal
		s.mu.Unlock()
		slog.Error("❌ Feed connectivity lost for good", slog.Int("attempts", fatal.Attempts), slog.Any("error", fatal.Err))

	case change.To == domain.StateConnected:
		s.mu.Lock()
		s.fatal = nil
		instrument := s.instrument
		s.confirmed = false
		s.mu.Unlock()

		if instrument == "" {
			return
		}
		if err := s.send(event.ChangeSymbol(instrument)); err != nil {
			slog.Warn("Failed to resubscribe after reconnect", slog.String("instrument", instrument), slog.Any("error", err))
		}
	}
}

func (s *Session) OnLatency(time.Duration) {}
