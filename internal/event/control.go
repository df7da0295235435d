package event

import "encoding/json"

// Outbound control discriminators
const (
	CtrlPing            = "ping"
	CtrlChangeSymbol    = "change_symbol"
	CtrlUnsubscribe     = "unsubscribe"
	CtrlChangeTimeframe = "change_timeframe"
	CtrlSearchSymbols   = "search_symbols"
)

// Control is an outbound message sent through the transport channel.
type Control struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	Query     string `json:"query,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Encode marshals the control message
func (c Control) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func Ping() Control                     { return Control{Type: CtrlPing} }
func ChangeSymbol(symbol string) Control { return Control{Type: CtrlChangeSymbol, Symbol: symbol} }
func Unsubscribe(symbol string) Control  { return Control{Type: CtrlUnsubscribe, Symbol: symbol} }

func ChangeTimeframe(timeframe string) Control {
	return Control{Type: CtrlChangeTimeframe, Timeframe: timeframe}
}

func SearchSymbols(query string, limit int) Control {
	return Control{Type: CtrlSearchSymbols, Query: query, Limit: limit}
}
