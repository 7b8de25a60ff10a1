package notify

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New("kqueue-please")
	require.Error(t, err)
}

func TestWatchErrorUnwraps(t *testing.T) {
	err := error(&WatchError{Op: "add", Path: "/missing", Err: fs.ErrNotExist})
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, "add watch /missing: file does not exist", err.Error())

	var watchErr *WatchError
	require.True(t, errors.As(err, &watchErr))
	assert.Equal(t, "/missing", watchErr.Path)
}

func TestFsnotifyAdapterReportsEntryEvents(t *testing.T) {
	adapter, err := NewFsnotify()
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	exerciseAdapter(t, adapter)
}

func TestFsnotifyAdapterReusesHandlePerDirectory(t *testing.T) {
	adapter, err := NewFsnotify()
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	dir := t.TempDir()
	first, err := adapter.AddWatch(dir)
	require.NoError(t, err)
	second, err := adapter.AddWatch(dir + string(filepath.Separator))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, adapter.RemoveWatch(first))
	assert.Error(t, adapter.RemoveWatch(first))
}

func TestFsnotifyAdapterMissingDirectory(t *testing.T) {
	adapter, err := NewFsnotify()
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	_, err = adapter.AddWatch(filepath.Join(t.TempDir(), "nope"))
	var watchErr *WatchError
	require.ErrorAs(t, err, &watchErr)
	assert.Equal(t, "add", watchErr.Op)
}

func TestFsnotifyAdapterCloseEndsEvents(t *testing.T) {
	adapter, err := NewFsnotify()
	require.NoError(t, err)

	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())

	_, ok := <-adapter.Events()
	assert.False(t, ok)

	_, err = adapter.AddWatch(t.TempDir())
	assert.ErrorIs(t, err, ErrClosed)
}

// exerciseAdapter watches a temp directory, writes a file in it and expects
// an event naming that file under the directory's handle.
func exerciseAdapter(t *testing.T, adapter Adapter) {
	t.Helper()

	dir := t.TempDir()
	handle, err := adapter.AddWatch(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("update"), 0o600))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-adapter.Events():
			require.True(t, ok, "events closed early")
			if event.Name != "watched.txt" {
				continue
			}
			assert.Equal(t, handle, event.Handle)
			assert.NotZero(t, event.Mask)
			return
		case err := <-adapter.Errors():
			t.Fatalf("adapter error: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}
