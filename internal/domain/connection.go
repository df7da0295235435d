package domain

import "time"

// ConnState is the connection supervisor's state. Only the supervisor mutates it.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the string representation of ConnState
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Degraded reports whether the UI should show the persistent disconnected/reconnecting overlay.
func (s ConnState) Degraded() bool {
	return s == StateReconnecting || s == StateClosed
}

// StateChange is delivered to connection observers on every transition.
type StateChange struct {
	From    ConnState     `json:"from"`
	To      ConnState     `json:"to"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay,omitempty"` // scheduled reconnect delay, Reconnecting only
	Err     error         `json:"-"`
	At      time.Time     `json:"at"`
}
