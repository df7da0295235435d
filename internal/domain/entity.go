package domain

import (
	"time"
)

// Preference represents a user-level setting (Key-Value), e.g. last instrument or palette
type Preference struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Diagnostic is an error or diagnostic event emitted by the pipeline.
// Diagnostics are fire-and-forget; nothing in the core waits on them.
type Diagnostic struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"index" json:"session_id"`
	Kind       string    `gorm:"index" json:"kind"` // "parse_error", "crossed_book", "feed_error", ...
	Instrument string    `json:"instrument"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

const (
	DiagParseError    = "parse_error"
	DiagCrossedBook   = "crossed_book"
	DiagFeedError     = "feed_error"
	DiagSymbolError   = "symbol_error"
	DiagHandlerPanic  = "handler_panic"
	DiagInboxOverflow = "inbox_overflow"
)
