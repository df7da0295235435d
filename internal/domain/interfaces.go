package domain

import (
	"context"
	"time"
)

// DiagnosticsSink receives error and diagnostic events (persistence/logging collaborator).
// Record must not block the caller.
type DiagnosticsSink interface {
	Record(d Diagnostic)
}

// StatusPublisher reports connection state and latency to status-reporting collaborators.
type StatusPublisher interface {
	PublishState(ctx context.Context, change StateChange) error
	PublishLatency(ctx context.Context, latency time.Duration) error
}

// PreferenceStore persists user-level settings between sessions
type PreferenceStore interface {
	SavePreference(key, value string) error
	LoadPreferences() (map[string]string, error)
}
