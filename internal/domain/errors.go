package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// TransportError represents a connect/send/receive failure on the feed channel.
// Retriable transport errors go through the connection supervisor's backoff policy;
// a non-retriable dial failure closes the supervisor at once.
type TransportError struct {
	Op        string // "dial", "send", "receive", "close"
	Err       error
	Retriable bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) IsRetriable() bool {
	return e.Retriable
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new retriable transport error
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Retriable: true}
}

// ProtocolParseError is a malformed or undecodable inbound frame.
// The frame is dropped and the pipeline continues.
type ProtocolParseError struct {
	MsgType string // empty when the envelope itself did not parse
	Err     error
}

func (e *ProtocolParseError) Error() string {
	if e.MsgType == "" {
		return "parse frame: " + e.Err.Error()
	}
	return "parse " + e.MsgType + ": " + e.Err.Error()
}

func (e *ProtocolParseError) IsRetriable() bool {
	return false
}

func (e *ProtocolParseError) Unwrap() error {
	return e.Err
}

// CrossedBookError rejects a depth update whose best bid is not below its best ask.
type CrossedBookError struct {
	Instrument string
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
}

func (e *CrossedBookError) Error() string {
	return fmt.Sprintf("crossed book [%s]: best bid %s >= best ask %s",
		e.Instrument, e.BestBid.String(), e.BestAsk.String())
}

func (e *CrossedBookError) IsRetriable() bool {
	return false
}

// FatalConnectivityError is raised once reconnect attempts are exhausted or the
// endpoint rejects the connection with a non-retriable error.
// Automatic retry stops; only a manual reconnect leaves the Closed state.
type FatalConnectivityError struct {
	Attempts int
	Err      error // last transport failure, may be nil
}

func (e *FatalConnectivityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connectivity lost after %d reconnect attempts", e.Attempts)
	}
	return fmt.Sprintf("connectivity lost after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *FatalConnectivityError) IsRetriable() bool {
	return false
}

func (e *FatalConnectivityError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotConnected is returned by control operations issued while the supervisor is not Connected.
	// Control messages are never queued.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidTransition is returned when a connection state change is not in the transition table.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPipelineStopped is returned when a control event is sent to a pipeline that is no longer running.
	ErrPipelineStopped = errors.New("pipeline stopped")

	// ErrInvalidSymbol is returned when an instrument id is empty or malformed.
	ErrInvalidSymbol = errors.New("invalid symbol")
)
