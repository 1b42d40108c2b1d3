// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	// Import SQLite driver
	_ "modernc.org/sqlite"

	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/graph"
	"github.com/beadsync/beadsync/internal/storage"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db          *sql.DB
	dbPath      string
	closed      atomic.Bool // Tracks whether Close() has been called
	journalMode JournalMode
	lockTimeout time.Duration
	policy      *graph.Policy // nil: read from the config table on every query
}

// Option configures New.
type Option func(*SQLiteStorage)

// WithJournalMode forces WAL or DELETE instead of auto-detection.
func WithJournalMode(mode JournalMode) Option {
	return func(s *SQLiteStorage) { s.journalMode = mode }
}

// WithBusyTimeout bounds how long a writer waits on the database lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *SQLiteStorage) { s.lockTimeout = d }
}

// WithGraphPolicy pins the blocking rules, ignoring the config table.
func WithGraphPolicy(p graph.Policy) Option {
	return func(s *SQLiteStorage) { s.policy = &p }
}

var _ storage.Storage = (*SQLiteStorage)(nil)

// New opens (creating if needed) the database at path, brings the schema up
// to date and returns the store. A migration failure returns ErrMigration
// and no store.
func New(ctx context.Context, path string, opts ...Option) (*SQLiteStorage, error) {
	s := &SQLiteStorage{
		journalMode: JournalAuto,
		lockTimeout: storage.DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))

	absPath := path
	if !isInMemory && !strings.HasPrefix(path, "file:") {
		var err error
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", storage.SQLiteConnString(absPath, false, s.lockTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases are private to one connection.
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// One writer plus readers; more only piles goroutines onto the write lock.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if !isInMemory {
		s.journalMode = applyJournalMode(ctx, db, absPath, s.journalMode)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Verify schema compatibility after migrations, retrying them once
	if err := verifySchemaCompatibility(ctx, db); err != nil {
		if retryErr := RunMigrations(ctx, db); retryErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration retry failed after schema probe failure: %w (original: %w)", retryErr, err)
		}
		if err := verifySchemaCompatibility(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: schema probe failed after migration retry: %w. Database may be corrupted or from an incompatible version", storage.ErrMigration, err)
		}
	}

	s.db = db
	s.dbPath = absPath
	return s, nil
}

// applyJournalMode switches the database to the chosen journal, falling back
// to DELETE when WAL cannot be enabled. It returns the mode in effect.
func applyJournalMode(ctx context.Context, db *sql.DB, path string, requested JournalMode) JournalMode {
	mode, reason := chooseJournalMode(path, requested)
	if mode == JournalWAL {
		var got string
		err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&got)
		if err == nil && strings.EqualFold(got, "wal") {
			return JournalWAL
		}
		debug.Logf("sqlite: WAL unavailable for %s (got %q, err %v), using DELETE journal\n", path, got, err)
		reason = "WAL rejected"
	} else {
		debug.Logf("sqlite: using DELETE journal for %s (%s)\n", path, reason)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		debug.Logf("sqlite: failed to set DELETE journal (%s): %v\n", reason, err)
	}
	return JournalDelete
}

// Close closes the database connection.
// It checkpoints the WAL to ensure all writes are flushed to the main database file.
func (s *SQLiteStorage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.journalMode == JournalWAL {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// Path returns the absolute path to the database file
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// IsClosed reports whether Close has been called.
func (s *SQLiteStorage) IsClosed() bool {
	return s.closed.Load()
}

// JournalMode returns the journal the database ended up using.
func (s *SQLiteStorage) JournalMode() JournalMode {
	return s.journalMode
}

// UnderlyingDB returns the raw handle for tests and diagnostics.
func (s *SQLiteStorage) UnderlyingDB() *sql.DB {
	return s.db
}

// CheckpointWAL folds the write-ahead log back into the main file.
func (s *SQLiteStorage) CheckpointWAL(ctx context.Context) error {
	if s.journalMode != JournalWAL {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return wrapDBError("checkpoint WAL", err)
}
