package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"orderflow/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const defaultBufferSize = 256

// Storage persists diagnostics and user preferences. Market data is never stored.
type Storage struct {
	db        *gorm.DB
	sessionID string

	diagCh  chan domain.Diagnostic
	dropped atomic.Uint64
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewStorage opens (or creates) the SQLite database at path and starts the diagnostics writer.
// An empty path resolves to the per-user config directory.
func NewStorage(path, sessionID string, bufferSize int) (*Storage, error) {
	if path == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure Go driver, no cgo
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db, sessionID, bufferSize)
}

func newStorage(db *gorm.DB, sessionID string, bufferSize int) (*Storage, error) {
	if err := db.AutoMigrate(&domain.Diagnostic{}, &domain.Preference{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	s := &Storage{
		db:        db,
		sessionID: sessionID,
		diagCh:    make(chan domain.Diagnostic, bufferSize),
		done:      make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}
	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "OrderFlow", "data", "orderflow.db"), nil
}

// ======================================================================================
// Diagnostics
// ======================================================================================

// Record queues a diagnostic for writing. It never blocks; when the buffer is full
// or the store is closed the diagnostic is dropped and counted.
func (s *Storage) Record(d domain.Diagnostic) {
	if d.SessionID == "" {
		d.SessionID = s.sessionID
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.diagCh <- d:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many diagnostics were discarded.
func (s *Storage) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Storage) writeLoop() {
	defer close(s.done)
	for d := range s.diagCh {
		s.writeDiagnostic(d)
	}
}

func (s *Storage) writeDiagnostic(d domain.Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Diagnostics writer panic recovered", slog.Any("panic", r))
		}
	}()
	if err := s.db.Create(&d).Error; err != nil {
		slog.Warn("Failed to persist diagnostic", slog.String("kind", d.Kind), slog.Any("error", err))
	}
}

// RecentDiagnostics returns up to limit diagnostics, newest first.
func (s *Storage) RecentDiagnostics(limit int) ([]domain.Diagnostic, error) {
	var out []domain.Diagnostic
	err := s.db.Order("created_at desc").Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// ======================================================================================
// Preferences
// ======================================================================================

// SavePreference upserts a user-level setting
func (s *Storage) SavePreference(key, value string) error {
	pref := domain.Preference{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&pref).Error
}

// LoadPreferences loads all user-level settings as a map
func (s *Storage) LoadPreferences() (map[string]string, error) {
	var prefs []domain.Preference
	if err := s.db.Find(&prefs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string, len(prefs))
	for _, p := range prefs {
		result[p.Key] = p.Value
	}
	return result, nil
}

// Close flushes queued diagnostics and closes the database.
func (s *Storage) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.diagCh)
	s.closeMu.Unlock()

	<-s.done

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
