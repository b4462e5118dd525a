// Package store persists session snapshots in SQLite so a restarted process
// can still restore an identity without a cold start.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"scenecore/internal/logging"
)

// ErrNotFound is returned when no snapshot exists for an identity.
var ErrNotFound = errors.New("snapshot not found")

// Record is one stored snapshot. Payload is opaque to the store; Format is
// the payload encoding version chosen by the writer.
type Record struct {
	Identity  string
	Payload   []byte
	Format    int
	SavedAt   time.Time
	UpdatedAt time.Time
}

// Store is a SQLite-backed snapshot table. One row per identity; a put
// overwrites.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()
	log := logging.Get(logging.CategoryStore)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" one database and serializes
	// writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			log.Debug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		log.Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("snapshot store ready at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_snapshots (
		identity TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		saved_at TEXT NOT NULL,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create session_snapshots table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Put stores payload, encoded in the given format version, for identity,
// replacing any previous snapshot.
func (s *Store) Put(ctx context.Context, identity string, payload []byte, format int, savedAt time.Time) error {
	timer := logging.StartTimer(logging.CategoryStore, "Put")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_snapshots (identity, payload, format, saved_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(identity) DO UPDATE SET
			payload = excluded.payload,
			format = excluded.format,
			saved_at = excluded.saved_at,
			updated_at = CURRENT_TIMESTAMP`,
		identity, string(payload), format, savedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store snapshot for %s: %v", identity, err)
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	logging.Get(logging.CategoryStore).Debug("stored snapshot for %s (%d bytes)", identity, len(payload))
	return nil
}

// Get loads the snapshot for identity, or ErrNotFound.
func (s *Store) Get(ctx context.Context, identity string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload, savedAt string
	var format int
	var updatedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, format, saved_at, updated_at FROM session_snapshots WHERE identity = ?",
		identity,
	).Scan(&payload, &format, &savedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	rec := Record{Identity: identity, Payload: []byte(payload), Format: format}
	if rec.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		logging.Get(logging.CategoryStore).Debug("snapshot for %s has unreadable saved_at %q: %v", identity, savedAt, err)
	}
	if updatedAt.Valid {
		rec.UpdatedAt = parseSQLiteTime(updatedAt.String)
	}
	return rec, nil
}

// Delete removes the snapshot for identity. Deleting a missing snapshot is
// not an error.
func (s *Store) Delete(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_snapshots WHERE identity = ?", identity); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	logging.Get(logging.CategoryStore).Debug("deleted snapshot for %s", identity)
	return nil
}

// List returns every stored identity, most recently saved first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT identity FROM session_snapshots ORDER BY saved_at DESC, identity")
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func parseSQLiteTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
