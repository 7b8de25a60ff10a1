// Package ids assigns stable numeric identities to file paths.
package ids

import (
	"fmt"
	"sync"
)

// State is the persisted form of a Registry.
type State struct {
	Counter uint64            `json:"counter"`
	IDs     map[string]uint64 `json:"ids"`
}

func (s State) clone() State {
	ids := make(map[string]uint64, len(s.IDs))
	for path, id := range s.IDs {
		ids[path] = id
	}
	return State{Counter: s.Counter, IDs: ids}
}

// Persister loads and stores a Registry's State.
type Persister interface {
	Load() (State, error)
	Save(State) error
}

// PersistenceError reports a failed load or save.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s ids %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Registry hands out ids from a monotonically increasing counter. Ids are
// never reused, even after the path stops being watched.
type Registry struct {
	mu        sync.Mutex
	state     State
	persister Persister
}

// Open loads the registry from p. A nil Persister keeps ids in memory only.
func Open(p Persister) (*Registry, error) {
	r := &Registry{
		state:     State{IDs: make(map[string]uint64)},
		persister: p,
	}
	if p == nil {
		return r, nil
	}

	state, err := p.Load()
	if err != nil {
		return nil, err
	}
	if state.IDs == nil {
		state.IDs = make(map[string]uint64)
	}
	r.state = state
	return r, nil
}

// Assign returns the id for path, allocating and persisting a new one if
// path has never been seen. A failed save leaves the registry unchanged.
func (r *Registry) Assign(path string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.state.IDs[path]; ok {
		return id, nil
	}

	id := r.state.Counter + 1
	r.state.Counter = id
	r.state.IDs[path] = id

	if r.persister != nil {
		if err := r.persister.Save(r.state); err != nil {
			r.state.Counter = id - 1
			delete(r.state.IDs, path)
			return 0, err
		}
	}
	return id, nil
}

// Lookup returns the id previously assigned to path.
func (r *Registry) Lookup(path string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.state.IDs[path]
	return id, ok
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}
