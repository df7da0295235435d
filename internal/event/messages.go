package event

import (
	"encoding/json"
	"fmt"

	"orderflow/internal/domain"

	"github.com/shopspring/decimal"
)

// Inbound discriminators
const (
	TypeDepthUpdate         = "depth_update"
	TypeAggregatedTrades    = "aggregated_trades"
	TypeTick                = "tick"
	TypeMarketStatus        = "market_status"
	TypePong                = "pong"
	TypeError               = "error"
	TypeSymbolChanged       = "symbol_changed"
	TypeSymbolError         = "symbol_error"
	TypeQuoteUpdate         = "quote_update"
	TypeOffMarketData       = "off_market_data"
	TypeSymbolSearchResults = "symbol_search_results"
)

// Message is a decoded inbound frame.
type Message interface {
	Kind() string
}

// DepthUpdate carries the full bid/ask ladder for an instrument.
type DepthUpdate struct {
	Symbol          string        `json:"symbol,omitempty"`
	InstrumentToken FlexString    `json:"instrument_token,omitempty"`
	Bids            []Level       `json:"bids"`
	Asks            []Level       `json:"asks"`
	LastTrade       *LastTrade    `json:"last_trade,omitempty"`
	Timestamp       *EpochSeconds `json:"timestamp,omitempty"`
}

// LastTrade is the optional last print on a depth update.
type LastTrade struct {
	Price    decimal.Decimal `json:"price"`
	Quantity Qty             `json:"quantity"`
	Side     string          `json:"side"`
}

// AggregateRow is one price entry of an aggregated_trades frame.
type AggregateRow struct {
	TotalVolume Qty `json:"total_volume"`
	BuyVolume   Qty `json:"buy_volume"`
	SellVolume  Qty `json:"sell_volume"`
	TradeCount  Qty `json:"trade_count"`
}

// AggregatedTrades is a server-side pre-aggregated window keyed by price string.
type AggregatedTrades struct {
	Data      map[string]AggregateRow `json:"data"`
	Timestamp EpochSeconds            `json:"timestamp"`
}

// Tick is a single trade print.
type Tick struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  Qty             `json:"quantity"`
	Side      string          `json:"side"`
	Timestamp EpochSeconds    `json:"timestamp"`
	Sequence  *int64          `json:"sequence,omitempty"`
}

// MarketStatus toggles live-feed consumption.
type MarketStatus struct {
	IsMarketHours *bool  `json:"is_market_hours"`
	Status        string `json:"market_status,omitempty"`
}

// Open reports whether the market is in live hours.
func (m *MarketStatus) Open() bool {
	if m.IsMarketHours != nil {
		return *m.IsMarketHours
	}
	return m.Status == "open"
}

// Pong answers a ping.
type Pong struct {
	Timestamp *EpochSeconds `json:"timestamp,omitempty"`
}

// ErrorMessage is an upstream error notice.
type ErrorMessage struct {
	Code    FlexString `json:"code"`
	Message string     `json:"message"`
}

// SymbolChanged confirms an instrument switch.
type SymbolChanged struct {
	Symbol     string          `json:"symbol"`
	DataMode   string          `json:"data_mode,omitempty"` // "live" or "historical"
	SymbolInfo json.RawMessage `json:"symbol_info,omitempty"`
}

// SymbolError rejects an instrument switch.
type SymbolError struct {
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
}

// QuoteUpdate is a last-traded-price quote.
type QuoteUpdate struct {
	Symbol        string          `json:"symbol,omitempty"`
	LTP           decimal.Decimal `json:"ltp"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        Qty             `json:"volume"`
}

// OffMarketData is handed to the historical collaborator untouched.
type OffMarketData struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Raw       json.RawMessage `json:"-"`
}

// SymbolSearchResults is handed to the symbol collaborator untouched.
type SymbolSearchResults struct {
	Query   string            `json:"query"`
	Results []json.RawMessage `json:"results"`
}

// Unknown is a frame whose discriminator is not recognized.
type Unknown struct {
	Type string
}

func (*DepthUpdate) Kind() string         { return TypeDepthUpdate }
func (*AggregatedTrades) Kind() string    { return TypeAggregatedTrades }
func (*Tick) Kind() string                { return TypeTick }
func (*MarketStatus) Kind() string        { return TypeMarketStatus }
func (*Pong) Kind() string                { return TypePong }
func (*ErrorMessage) Kind() string        { return TypeError }
func (*SymbolChanged) Kind() string       { return TypeSymbolChanged }
func (*SymbolError) Kind() string         { return TypeSymbolError }
func (*QuoteUpdate) Kind() string         { return TypeQuoteUpdate }
func (*OffMarketData) Kind() string       { return TypeOffMarketData }
func (*SymbolSearchResults) Kind() string { return TypeSymbolSearchResults }
func (u *Unknown) Kind() string           { return u.Type }

// Decode classifies a raw frame by its "type" field and decodes the typed payload.
// Unknown discriminators decode to *Unknown without error.
func Decode(raw []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &domain.ProtocolParseError{Err: err}
	}
	if envelope.Type == "" {
		return nil, &domain.ProtocolParseError{Err: fmt.Errorf("missing type discriminator")}
	}

	var msg Message
	switch envelope.Type {
	case TypeDepthUpdate:
		msg = &DepthUpdate{}
	case TypeAggregatedTrades:
		msg = &AggregatedTrades{}
	case TypeTick:
		msg = &Tick{}
	case TypeMarketStatus:
		msg = &MarketStatus{}
	case TypePong:
		msg = &Pong{}
	case TypeError:
		msg = &ErrorMessage{}
	case TypeSymbolChanged:
		msg = &SymbolChanged{}
	case TypeSymbolError:
		msg = &SymbolError{}
	case TypeQuoteUpdate:
		msg = &QuoteUpdate{}
	case TypeOffMarketData:
		off := &OffMarketData{Raw: append(json.RawMessage(nil), raw...)}
		msg = off
	case TypeSymbolSearchResults:
		msg = &SymbolSearchResults{}
	default:
		return &Unknown{Type: envelope.Type}, nil
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, &domain.ProtocolParseError{MsgType: envelope.Type, Err: err}
	}
	return msg, nil
}
