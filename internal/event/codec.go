package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Qty is a quantity that the feed may send as an integer, a float, or a quoted number.
type Qty int64

func (q *Qty) UnmarshalJSON(b []byte) error {
	d, err := decodeDecimal(b)
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	if d.IsNegative() {
		return fmt.Errorf("quantity: negative value %s", d.String())
	}
	*q = Qty(d.IntPart())
	return nil
}

// EpochSeconds is a seconds-since-epoch timestamp with optional fractional part.
type EpochSeconds struct {
	time.Time
}

func (e *EpochSeconds) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	d, err := decodeDecimal(b)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	secs := d.IntPart()
	nanos := d.Sub(decimal.NewFromInt(secs)).Mul(decimal.NewFromInt(int64(time.Second))).IntPart()
	e.Time = time.Unix(secs, nanos)
	return nil
}

// MarshalJSON writes the timestamp back as fractional seconds.
func (e EpochSeconds) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	secs := float64(e.UnixNano()) / float64(time.Second)
	return []byte(strconv.FormatFloat(secs, 'f', -1, 64)), nil
}

// FlexString accepts a JSON string or number (error codes arrive as either).
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Level is a [price, quantity] pair.
type Level struct {
	Price    decimal.Decimal
	Quantity Qty
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	if len(pair) < 2 {
		return fmt.Errorf("level: want [price, qty], got %d elements", len(pair))
	}
	price, err := decodeDecimal(pair[0])
	if err != nil {
		return fmt.Errorf("level price: %w", err)
	}
	if err := l.Quantity.UnmarshalJSON(pair[1]); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	l.Price = price
	return nil
}

// MarshalJSON writes the level as [price, qty].
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Price, int64(l.Quantity)})
}

func decodeDecimal(b []byte) (decimal.Decimal, error) {
	if bytes.Equal(b, []byte("null")) || len(b) == 0 {
		return decimal.Zero, fmt.Errorf("missing number")
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return decimal.Zero, err
	}
	if f := d.InexactFloat64(); math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Zero, fmt.Errorf("non-finite number")
	}
	return d, nil
}
