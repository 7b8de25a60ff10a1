package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/eshe-huli/ringforge/fem/internal/ids"
)

const metaIDCounter = "id_counter"

// IDTable persists an ids.Registry in the ids and meta tables. SQLite's
// own write lock serializes saves from concurrent processes.
type IDTable struct {
	s *Store
}

// IDs returns the id persister backed by this database.
func (s *Store) IDs() *IDTable {
	return &IDTable{s: s}
}

// Load reads the counter and every path id.
func (t *IDTable) Load() (ids.State, error) {
	state := ids.State{IDs: make(map[string]uint64)}

	tx, err := t.s.db.Begin()
	if err != nil {
		return ids.State{}, t.fail("load", err)
	}
	defer tx.Rollback()

	var counter string
	err = tx.QueryRow("SELECT value FROM meta WHERE key = ?", metaIDCounter).Scan(&counter)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return ids.State{}, t.fail("load", err)
	default:
		state.Counter, err = strconv.ParseUint(counter, 10, 64)
		if err != nil {
			return ids.State{}, t.fail("load", fmt.Errorf("parse counter %q: %w", counter, err))
		}
	}

	rows, err := tx.Query("SELECT path, id FROM ids")
	if err != nil {
		return ids.State{}, t.fail("load", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path string
			id   int64
		)
		if err := rows.Scan(&path, &id); err != nil {
			return ids.State{}, t.fail("load", err)
		}
		state.IDs[path] = uint64(id)
	}
	if err := rows.Err(); err != nil {
		return ids.State{}, t.fail("load", err)
	}
	return state, nil
}

// Save overwrites the stored counter and ids in one transaction.
func (t *IDTable) Save(state ids.State) error {
	tx, err := t.s.db.Begin()
	if err != nil {
		return t.fail("save", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		metaIDCounter, strconv.FormatUint(state.Counter, 10),
	); err != nil {
		return t.fail("save", err)
	}
	if _, err := tx.Exec("DELETE FROM ids"); err != nil {
		return t.fail("save", err)
	}

	stmt, err := tx.Prepare("INSERT INTO ids (path, id) VALUES (?, ?)")
	if err != nil {
		return t.fail("save", err)
	}
	defer stmt.Close()

	for path, id := range state.IDs {
		if _, err := stmt.Exec(path, int64(id)); err != nil {
			return t.fail("save", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return t.fail("save", err)
	}
	return nil
}

func (t *IDTable) fail(op string, err error) error {
	return &ids.PersistenceError{Op: op, Path: t.s.path, Err: err}
}
