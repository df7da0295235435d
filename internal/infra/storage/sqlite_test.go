package storage

import (
	"path/filepath"
	"testing"

	"orderflow/internal/domain"
)

func setupTestDB(t *testing.T, bufferSize int) *Storage {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStorage(path, "session-1", bufferSize)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	return s
}

func TestPreferences_SaveAndLoad(t *testing.T) {
	s := setupTestDB(t, 8)
	defer s.Close()

	if err := s.SavePreference("last_instrument", "RELIANCE"); err != nil {
		t.Fatalf("SavePreference failed: %v", err)
	}
	if err := s.SavePreference("palette", "neon"); err != nil {
		t.Fatalf("SavePreference failed: %v", err)
	}
	// overwrite
	if err := s.SavePreference("last_instrument", "TCS"); err != nil {
		t.Fatalf("SavePreference overwrite failed: %v", err)
	}

	prefs, err := s.LoadPreferences()
	if err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}
	if len(prefs) != 2 {
		t.Errorf("expected 2 preferences, got %d", len(prefs))
	}
	if prefs["last_instrument"] != "TCS" {
		t.Errorf("last_instrument = %q, want TCS", prefs["last_instrument"])
	}
	if prefs["palette"] != "neon" {
		t.Errorf("palette = %q, want neon", prefs["palette"])
	}
}

func TestDiagnostics_FlushedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.db")
	s, err := NewStorage(path, "session-1", 16)
	if err != nil {
		t.Fatal(err)
	}

	s.Record(domain.Diagnostic{Kind: domain.DiagParseError, Message: "bad frame"})
	s.Record(domain.Diagnostic{Kind: domain.DiagCrossedBook, Instrument: "INFY", Message: "crossed"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// recorded after close: dropped, never panics
	s.Record(domain.Diagnostic{Kind: domain.DiagFeedError})
	if s.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", s.Dropped())
	}

	reopened, err := NewStorage(path, "session-2", 16)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	diags, err := reopened.RecentDiagnostics(10)
	if err != nil {
		t.Fatalf("RecentDiagnostics failed: %v", err)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}
	for _, d := range diags {
		if d.SessionID != "session-1" {
			t.Errorf("session id = %q", d.SessionID)
		}
		if d.CreatedAt.IsZero() {
			t.Error("created_at not stamped")
		}
	}
	if diags[0].Kind != domain.DiagCrossedBook {
		t.Errorf("newest kind = %q, want %q", diags[0].Kind, domain.DiagCrossedBook)
	}
}

func TestDiagnostics_RecordNeverBlocks(t *testing.T) {
	s := setupTestDB(t, 1)
	defer s.Close()

	for i := 0; i < 1000; i++ {
		s.Record(domain.Diagnostic{Kind: domain.DiagInboxOverflow})
	}
	// whatever did not fit the buffer was counted instead of blocking
	if s.Dropped() == 0 {
		t.Log("writer kept up with every record")
	}
}
