package ids

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPersister struct {
	loadErr error
	saveErr error
	saves   int
}

func (p *failingPersister) Load() (State, error) {
	return State{}, p.loadErr
}

func (p *failingPersister) Save(State) error {
	p.saves++
	return p.saveErr
}

func TestAssignAllocatesSequentially(t *testing.T) {
	r, err := Open(nil)
	require.NoError(t, err)

	first, err := r.Assign("/tmp/a")
	require.NoError(t, err)
	second, err := r.Assign("/tmp/b")
	require.NoError(t, err)
	again, err := r.Assign("/tmp/a")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)
	assert.Equal(t, first, again)

	id, ok := r.Lookup("/tmp/b")
	assert.True(t, ok)
	assert.Equal(t, uint64(2), id)

	_, ok = r.Lookup("/tmp/c")
	assert.False(t, ok)
}

func TestAssignRollsBackOnSaveFailure(t *testing.T) {
	boom := errors.New("disk full")
	p := &failingPersister{}
	r, err := Open(p)
	require.NoError(t, err)

	_, err = r.Assign("/tmp/a")
	require.NoError(t, err)

	p.saveErr = boom
	_, err = r.Assign("/tmp/b")
	require.ErrorIs(t, err, boom)

	_, ok := r.Lookup("/tmp/b")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), r.Snapshot().Counter)

	p.saveErr = nil
	id, err := r.Assign("/tmp/b")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
}

func TestOpenPropagatesLoadFailure(t *testing.T) {
	boom := &PersistenceError{Op: "load", Path: "x", Err: errors.New("locked")}
	_, err := Open(&failingPersister{loadErr: boom})

	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "load", persistErr.Op)
}

func TestSnapshotIsACopy(t *testing.T) {
	r, err := Open(nil)
	require.NoError(t, err)
	_, err = r.Assign("/tmp/a")
	require.NoError(t, err)

	snap := r.Snapshot()
	snap.IDs["/tmp/z"] = 99

	_, ok := r.Lookup("/tmp/z")
	assert.False(t, ok)
}

func TestAssignIsSafeForConcurrentUse(t *testing.T) {
	r, err := Open(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = r.Assign(filepath.Join("/tmp", string(rune('a'+n%26)), "f"))
		}(n)
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, uint64(26), snap.Counter)
	assert.Len(t, snap.IDs, 26)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ids.json")
	store := NewFileStore(path)

	state, err := store.Load()
	require.NoError(t, err)
	assert.Zero(t, state.Counter)
	assert.Empty(t, state.IDs)

	r, err := Open(store)
	require.NoError(t, err)
	for _, p := range []string{"/tmp/a", "/tmp/dir with spaces/b", "/tmp/ünïcode"} {
		_, err := r.Assign(p)
		require.NoError(t, err)
	}

	reopened, err := Open(NewFileStore(path))
	require.NoError(t, err)
	assert.Equal(t, r.Snapshot(), reopened.Snapshot())

	id, err := reopened.Assign("/tmp/d")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)
}

func TestFileStoreShrinksOnOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.json")
	store := NewFileStore(path)

	big := State{Counter: 3, IDs: map[string]uint64{"/a": 1, "/b": 2, "/c": 3}}
	require.NoError(t, store.Save(big))
	small := State{Counter: 1, IDs: map[string]uint64{"/a": 1}}
	require.NoError(t, store.Save(small))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, small, loaded)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(NewFileStore(path))
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, path, persistErr.Path)
}

func TestFileStoreSaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := NewFileStore(filepath.Join(blocker, "ids.json")).Save(State{})
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "save", persistErr.Op)
}
