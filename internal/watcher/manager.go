// Package watcher tracks individual files on top of a directory-level
// notification adapter, assigns each file a stable id and dispatches
// debounced events to one callback per file.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/eshe-huli/ringforge/fem/internal/buffer"
	"github.com/eshe-huli/ringforge/fem/internal/ids"
	"github.com/eshe-huli/ringforge/fem/internal/notify"
)

// Callback receives an admitted event for a watched file. path is the
// string that was passed to Watch.
type Callback func(id uint64, path string, mask notify.Mask)

// Options controls manager behavior.
type Options struct {
	// Interval is the per-file debounce window. Zero selects
	// buffer.DefaultInterval; a negative value admits every event.
	Interval time.Duration
	// Capacity bounds each file's event history. Zero selects
	// buffer.DefaultCapacity; buffer.Unbounded keeps everything.
	Capacity int
	Logger   *slog.Logger
	// OnError receives adapter failures, including notify.ErrOverflow, and
	// recovered callback panics. It runs on the dispatch goroutine.
	OnError func(error)
}

type watchedFile struct {
	key    string
	path   string
	id     uint64
	buffer *buffer.Buffer[notify.Mask]
}

type dirWatch struct {
	handle notify.Handle
	files  map[string]*watchedFile
}

// Manager owns the watch table, the per-file buffers, the callback registry
// and the dispatch goroutine. All methods are safe for concurrent use.
type Manager struct {
	adapter  notify.Adapter
	ids      *ids.Registry
	interval time.Duration
	capacity int
	logger   *slog.Logger
	onError  func(error)

	mu        sync.Mutex
	dirs      map[string]*dirWatch
	handles   map[notify.Handle][]string
	callbacks map[string]Callback
	closed    bool

	closeOnce sync.Once
	done      chan struct{}
}

// New starts a manager reading from adapter. A nil registry keeps ids in
// memory only.
func New(adapter notify.Adapter, registry *ids.Registry, options Options) *Manager {
	if registry == nil {
		registry, _ = ids.Open(nil)
	}

	interval := options.Interval
	if interval == 0 {
		interval = buffer.DefaultInterval
	}
	capacity := options.Capacity
	if capacity == 0 {
		capacity = buffer.DefaultCapacity
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		adapter:   adapter,
		ids:       registry,
		interval:  interval,
		capacity:  capacity,
		logger:    logger.With("component", "watcher"),
		onError:   options.OnError,
		dirs:      make(map[string]*dirWatch),
		handles:   make(map[notify.Handle][]string),
		callbacks: make(map[string]Callback),
		done:      make(chan struct{}),
	}
	go m.run()
	return m
}

// Close stops dispatching and closes the adapter. It must not be called
// from a Callback.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		err = m.adapter.Close()
		<-m.done
	})
	return err
}

func splitPath(path string) (key, dir, name string) {
	key = filepath.Clean(path)
	return key, filepath.Dir(key), filepath.Base(key)
}

// Watch starts watching path and returns its id. A path seen before, even
// if it was unwatched since, gets its original id back.
func (m *Manager) Watch(path string) (uint64, error) {
	if path == "" {
		return 0, errors.New("watch: path is required")
	}
	key, dir, name := splitPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	dw, exists := m.dirs[dir]
	if exists {
		if _, ok := dw.files[name]; ok {
			return 0, fmt.Errorf("watch %s: %w", path, ErrAlreadyWatched)
		}
	} else {
		handle, err := m.adapter.AddWatch(dir)
		if err != nil {
			return 0, err
		}
		dw = &dirWatch{handle: handle, files: make(map[string]*watchedFile)}
	}

	id, err := m.ids.Assign(key)
	if err != nil {
		if !exists {
			m.releaseHandleLocked(dw.handle, dir, false)
		}
		return 0, err
	}

	if !exists {
		m.dirs[dir] = dw
		m.handles[dw.handle] = append(m.handles[dw.handle], dir)
		m.logger.Debug("directory watch added", "dir", dir, "handle", dw.handle)
	}
	dw.files[name] = &watchedFile{
		key:    key,
		path:   path,
		id:     id,
		buffer: buffer.New[notify.Mask](m.interval, m.capacity),
	}
	return id, nil
}

// Unwatch stops watching path. The directory watch is removed together with
// its last file. If removing it fails the path is still unwatched and the
// adapter's error is returned.
func (m *Manager) Unwatch(path string) (string, error) {
	key, dir, name := splitPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	dw, ok := m.dirs[dir]
	if !ok || dw.files[name] == nil {
		return "", fmt.Errorf("unwatch %s: %w", path, ErrNotWatched)
	}
	delete(dw.files, name)

	if len(dw.files) == 0 {
		delete(m.dirs, dir)
		if err := m.releaseHandleLocked(dw.handle, dir, true); err != nil {
			return path, fmt.Errorf("unwatch %s: %w", key, err)
		}
	}
	return path, nil
}

// releaseHandleLocked detaches dir from handle and removes the OS watch when
// no directory uses it anymore. inotify hands out one descriptor per inode,
// so two spellings of the same directory share a handle.
func (m *Manager) releaseHandleLocked(handle notify.Handle, dir string, attached bool) error {
	if attached {
		dirs := m.handles[handle]
		for i, candidate := range dirs {
			if candidate == dir {
				dirs = append(dirs[:i], dirs[i+1:]...)
				break
			}
		}
		if len(dirs) > 0 {
			m.handles[handle] = dirs
			return nil
		}
		delete(m.handles, handle)
	} else if len(m.handles[handle]) > 0 {
		return nil
	}

	if err := m.adapter.RemoveWatch(handle); err != nil {
		m.logger.Warn("directory watch remove failed", "dir", dir, "error", err)
		return err
	}
	m.logger.Debug("directory watch removed", "dir", dir, "handle", handle)
	return nil
}

// AddCallback registers the callback for a watched path. Only one callback
// per path is allowed.
func (m *Manager) AddCallback(path string, callback Callback) error {
	if callback == nil {
		return errors.New("add callback: callback is required")
	}
	key, dir, name := splitPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fileLocked(dir, name) == nil {
		return fmt.Errorf("add callback %s: %w", path, ErrNotWatched)
	}
	if _, ok := m.callbacks[key]; ok {
		return fmt.Errorf("add callback %s: %w", path, ErrDuplicateCallback)
	}
	m.callbacks[key] = callback
	return nil
}

// RmCallback removes the callback registered for path.
func (m *Manager) RmCallback(path string) error {
	key, _, _ := splitPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.callbacks[key]; !ok {
		return fmt.Errorf("remove callback %s: %w", path, ErrNoCallback)
	}
	delete(m.callbacks, key)
	return nil
}

// FileToID returns the id of a currently watched path.
func (m *Manager) FileToID(path string) (uint64, error) {
	_, dir, name := splitPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	file := m.fileLocked(dir, name)
	if file == nil {
		return 0, fmt.Errorf("file id %s: %w", path, ErrNotWatched)
	}
	return file.id, nil
}

// IsWatched reports whether path is in the watch set.
func (m *Manager) IsWatched(path string) bool {
	_, dir, name := splitPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileLocked(dir, name) != nil
}

// Buffer returns the debounce buffer of a watched path.
func (m *Manager) Buffer(path string) (*buffer.Buffer[notify.Mask], bool) {
	_, dir, name := splitPath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	file := m.fileLocked(dir, name)
	if file == nil {
		return nil, false
	}
	return file.buffer, true
}

// Subscribe observes the masks admitted for a watched path. Observers run
// on the dispatch goroutine and are dropped when the path is unwatched.
func (m *Manager) Subscribe(path string, observer buffer.Observer[notify.Mask]) (func(), error) {
	buf, ok := m.Buffer(path)
	if !ok {
		return nil, fmt.Errorf("subscribe %s: %w", path, ErrNotWatched)
	}
	return buf.Subscribe(observer), nil
}

func (m *Manager) fileLocked(dir, name string) *watchedFile {
	dw, ok := m.dirs[dir]
	if !ok {
		return nil
	}
	return dw.files[name]
}
