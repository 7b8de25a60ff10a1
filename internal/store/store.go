package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const metaInstanceID = "instance_id"

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store manages the local SQLite database for fem state.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) a SQLite database at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER NOT NULL,
			path TEXT NOT NULL,
			mask INTEGER NOT NULL,
			hash BLOB,
			created_at TEXT NOT NULL,
			forwarded INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			path TEXT PRIMARY KEY,
			hash BLOB NOT NULL,
			size INTEGER NOT NULL,
			seen_at TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS ids (
			path TEXT PRIMARY KEY,
			id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON events(forwarded, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// SetMeta stores a key-value pair.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a value by key.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// InstanceID returns the id that identifies this database to remote peers,
// generating one on first use.
func (s *Store) InstanceID() (string, error) {
	id, err := s.GetMeta(metaInstanceID)
	if err != nil {
		return "", fmt.Errorf("read instance id: %w", err)
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)",
		metaInstanceID, id,
	); err != nil {
		return "", fmt.Errorf("store instance id: %w", err)
	}
	// Another process may have won the insert.
	return s.GetMeta(metaInstanceID)
}

// RecordFile records the content fingerprint last seen for a file.
func (s *Store) RecordFile(path string, hash []byte, size int64) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO files (path, hash, size, seen_at, version)
		 VALUES (?, ?, ?, ?, COALESCE((SELECT version FROM files WHERE path = ?), 0) + 1)`,
		path, hash, size, time.Now().UTC().Format(timeLayout), path,
	)
	return err
}

// FileHash returns the last known hash for a file path.
func (s *Store) FileHash(path string) ([]byte, error) {
	var hash []byte
	err := s.db.QueryRow("SELECT hash FROM files WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return hash, err
}

// ForgetFile drops the fingerprint for a path, e.g. after it was deleted.
func (s *Store) ForgetFile(path string) error {
	_, err := s.db.Exec("DELETE FROM files WHERE path = ?", path)
	return err
}
