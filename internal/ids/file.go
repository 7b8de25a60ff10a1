package ids

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists State as JSON in a single file. Every load and save
// holds an exclusive lock on the file, so processes sharing it see whole
// records only.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file is created on the
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the persistence target.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored state. A missing file yields an empty state.
func (s *FileStore) Load() (State, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{IDs: make(map[string]uint64)}, nil
	}
	if err != nil {
		return State{}, s.fail("load", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return State{}, s.fail("load", err)
	}
	defer unlockFile(f)

	data, err := io.ReadAll(f)
	if err != nil {
		return State{}, s.fail("load", err)
	}

	state := State{IDs: make(map[string]uint64)}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, s.fail("load", err)
	}
	if state.IDs == nil {
		state.IDs = make(map[string]uint64)
	}
	return state, nil
}

// Save overwrites the stored state.
func (s *FileStore) Save(state State) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return s.fail("save", err)
		}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return s.fail("save", err)
	}

	// Truncate under the lock, not at open.
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return s.fail("save", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return s.fail("save", err)
	}
	defer unlockFile(f)

	if err := f.Truncate(0); err != nil {
		return s.fail("save", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return s.fail("save", err)
	}
	if err := f.Sync(); err != nil {
		return s.fail("save", err)
	}
	return nil
}

func (s *FileStore) fail(op string, err error) error {
	return &PersistenceError{Op: op, Path: s.path, Err: err}
}
