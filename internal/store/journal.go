package store

import (
	"fmt"
	"time"
)

// Record is an admitted event as written to the journal.
type Record struct {
	FileID uint64
	Path   string
	Mask   uint32
	Hash   []byte
}

// Entry is a journal row.
type Entry struct {
	ID        int64
	Record
	CreatedAt time.Time
	Forwarded bool
	Attempts  int
	LastError string
}

// Enqueue appends an event to the journal.
func (s *Store) Enqueue(rec Record) error {
	_, err := s.db.Exec(
		"INSERT INTO events (file_id, path, mask, hash, created_at) VALUES (?, ?, ?, ?, ?)",
		int64(rec.FileID), rec.Path, int64(rec.Mask), rec.Hash, time.Now().UTC().Format(timeLayout),
	)
	return err
}

// Dequeue marks an entry as forwarded. Forwarded entries stay listed by
// Recent until PurgeOld removes them.
func (s *Store) Dequeue(id int64) error {
	_, err := s.db.Exec("UPDATE events SET forwarded = 1 WHERE id = ?", id)
	return err
}

// PendingCount returns the number of entries not yet forwarded.
func (s *Store) PendingCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM events WHERE forwarded = 0").Scan(&count)
	return count, err
}

// PendingItems returns up to `limit` unforwarded entries, oldest first.
func (s *Store) PendingItems(limit int) ([]Entry, error) {
	return s.query(
		`SELECT id, file_id, path, mask, hash, created_at, forwarded, attempts, COALESCE(last_error, '')
		 FROM events WHERE forwarded = 0 ORDER BY id ASC LIMIT ?`,
		limit,
	)
}

// Recent returns up to `limit` entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	return s.query(
		`SELECT id, file_id, path, mask, hash, created_at, forwarded, attempts, COALESCE(last_error, '')
		 FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
}

func (s *Store) query(q string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			fileID     int64
			mask       int64
			createdStr string
		)
		if err := rows.Scan(&e.ID, &fileID, &e.Path, &mask, &e.Hash, &createdStr, &e.Forwarded, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.FileID = uint64(fileID)
		e.Mask = uint32(mask)
		e.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkFailed increments the attempt counter and records the error.
func (s *Store) MarkFailed(id int64, errMsg string) error {
	_, err := s.db.Exec(
		"UPDATE events SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		errMsg, id,
	)
	return err
}

// PurgeOld removes entries older than the given duration.
func (s *Store) PurgeOld(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(timeLayout)
	result, err := s.db.Exec("DELETE FROM events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
