package event

import (
	"errors"
	"testing"
	"time"

	"orderflow/internal/domain"

	"github.com/shopspring/decimal"
)

func TestDecode_DepthUpdate(t *testing.T) {
	raw := []byte(`{"type":"depth_update","symbol":"RELIANCE","instrument_token":2885,
		"bids":[[100,50],["99.5","30"]],"asks":[[101.25,40.0],[102,20]],
		"last_trade":{"price":100.5,"quantity":7,"side":"buy"},"timestamp":1700000000.25}`)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	depth, ok := msg.(*DepthUpdate)
	if !ok {
		t.Fatalf("Expected *DepthUpdate, got %T", msg)
	}

	if depth.Symbol != "RELIANCE" || depth.InstrumentToken != "2885" {
		t.Errorf("Unexpected identity: %q %q", depth.Symbol, depth.InstrumentToken)
	}
	if len(depth.Bids) != 2 || len(depth.Asks) != 2 {
		t.Fatalf("Expected 2x2 levels, got %dx%d", len(depth.Bids), len(depth.Asks))
	}
	if !depth.Bids[1].Price.Equal(decimal.RequireFromString("99.5")) || depth.Bids[1].Quantity != 30 {
		t.Errorf("Quoted level decoded wrong: %v", depth.Bids[1])
	}
	if depth.Asks[0].Quantity != 40 {
		t.Errorf("Float quantity decoded wrong: %d", depth.Asks[0].Quantity)
	}
	if depth.LastTrade == nil || depth.LastTrade.Side != "buy" {
		t.Errorf("Last trade missing: %+v", depth.LastTrade)
	}
	want := time.Unix(1700000000, 250000000)
	if depth.Timestamp == nil || !depth.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", depth.Timestamp, want)
	}
}

func TestDecode_AggregatedTrades(t *testing.T) {
	raw := []byte(`{"type":"aggregated_trades","timestamp":1700000000,
		"data":{"100.05":{"total_volume":10,"buy_volume":5,"sell_volume":5,"trade_count":2}}}`)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	agg := msg.(*AggregatedTrades)
	row, ok := agg.Data["100.05"]
	if !ok {
		t.Fatal("Expected row for 100.05")
	}
	if row.TotalVolume != 10 || row.TradeCount != 2 {
		t.Errorf("Unexpected row: %+v", row)
	}
}

func TestDecode_MarketStatus(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"explicit true", `{"type":"market_status","is_market_hours":true}`, true},
		{"explicit false", `{"type":"market_status","is_market_hours":false,"market_status":"open"}`, false},
		{"status only", `{"type":"market_status","market_status":"open"}`, true},
		{"nothing", `{"type":"market_status"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got := msg.(*MarketStatus).Open(); got != tt.want {
				t.Errorf("Open() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode_ErrorCodeFlexible(t *testing.T) {
	for _, raw := range []string{
		`{"type":"error","code":429,"message":"slow down"}`,
		`{"type":"error","code":"429","message":"slow down"}`,
	} {
		msg, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", raw, err)
		}
		if e := msg.(*ErrorMessage); e.Code != "429" || e.Message != "slow down" {
			t.Errorf("Unexpected error message: %+v", e)
		}
	}
}

func TestDecode_Unknown(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"future_feature","x":1}`))
	if err != nil {
		t.Fatalf("Unknown types must not error: %v", err)
	}
	if msg.Kind() != "future_feature" {
		t.Errorf("Kind() = %q", msg.Kind())
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		msgType string
	}{
		{"not json", `{{{`, ""},
		{"missing type", `{"bids":[]}`, ""},
		{"short level", `{"type":"depth_update","bids":[[100]],"asks":[]}`, "depth_update"},
		{"negative qty", `{"type":"tick","price":1,"quantity":-5,"side":"buy","timestamp":1}`, "tick"},
		{"bad price", `{"type":"depth_update","bids":[["abc",1]],"asks":[]}`, "depth_update"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			var perr *domain.ProtocolParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected ProtocolParseError, got %v", err)
			}
			if perr.MsgType != tt.msgType {
				t.Errorf("MsgType = %q, want %q", perr.MsgType, tt.msgType)
			}
		})
	}
}

func TestControl_Encode(t *testing.T) {
	tests := []struct {
		ctrl Control
		want string
	}{
		{Ping(), `{"type":"ping"}`},
		{ChangeSymbol("TCS"), `{"type":"change_symbol","symbol":"TCS"}`},
		{Unsubscribe("INFY"), `{"type":"unsubscribe","symbol":"INFY"}`},
		{ChangeTimeframe("5min"), `{"type":"change_timeframe","timeframe":"5min"}`},
		{SearchSymbols("REL", 20), `{"type":"search_symbols","query":"REL","limit":20}`},
	}

	for _, tt := range tests {
		b, err := tt.ctrl.Encode()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if string(b) != tt.want {
			t.Errorf("Encode() = %s, want %s", b, tt.want)
		}
	}
}
