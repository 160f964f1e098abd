// Package store persists device associations and the append-only log of
// machine usage summaries in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrAssociationNotFound is returned when a device has no association record
	ErrAssociationNotFound = errors.New("association not found")
	// ErrInvalidAssociation is returned when an association record cannot be used
	ErrInvalidAssociation = errors.New("invalid association")
	// ErrNotInitialized is returned by methods called on a closed or zero Store
	ErrNotInitialized = errors.New("store not initialized")
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	return s.db.PingContext(ctx)
}

// InitSchema ensures the tables exist. Existing tables are left untouched.
func (s *Store) InitSchema(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS device_associations (
			recording_device_id TEXT PRIMARY KEY,
			time_stamp_interval TEXT NOT NULL,
			ports TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS data_monitoring (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			device_id TEXT NOT NULL,
			energy TEXT NOT NULL,
			time_stamp TEXT NOT NULL,
			reported_unix_nano INTEGER NOT NULL,
			useful_information TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_data_monitoring_device_time ON data_monitoring(device_id, reported_unix_nano);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}
