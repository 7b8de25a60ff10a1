package notify

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FsnotifyAdapter is the portable backend. fsnotify has no watch
// descriptors, so handles are allocated per directory here and Mask carries
// the fsnotify.Op bits.
type FsnotifyAdapter struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	mu      sync.Mutex
	handles map[string]Handle
	dirs    map[Handle]string
	next    Handle
	closed  bool
	stopped sync.WaitGroup
}

// NewFsnotify creates an fsnotify-backed adapter and starts forwarding.
func NewFsnotify() (*FsnotifyAdapter, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	a := &FsnotifyAdapter{
		watcher: w,
		events:  make(chan Event, 64),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
		handles: make(map[string]Handle),
		dirs:    make(map[Handle]string),
	}
	a.stopped.Add(1)
	go a.forward()
	return a, nil
}

// AddWatch watches dir. fsnotify always reports every operation.
func (a *FsnotifyAdapter) AddWatch(dir string) (Handle, error) {
	dir = filepath.Clean(dir)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, &WatchError{Op: "add", Path: dir, Err: ErrClosed}
	}
	if h, ok := a.handles[dir]; ok {
		return h, nil
	}
	if err := a.watcher.Add(dir); err != nil {
		return 0, &WatchError{Op: "add", Path: dir, Err: err}
	}

	a.next++
	a.handles[dir] = a.next
	a.dirs[a.next] = dir
	return a.next, nil
}

// RemoveWatch stops watching the directory behind h.
func (a *FsnotifyAdapter) RemoveWatch(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dir, ok := a.dirs[h]
	if !ok {
		return &WatchError{Op: "remove", Err: fsnotify.ErrNonExistentWatch}
	}
	delete(a.dirs, h)
	delete(a.handles, dir)

	if a.closed {
		return &WatchError{Op: "remove", Path: dir, Err: ErrClosed}
	}
	if err := a.watcher.Remove(dir); err != nil {
		return &WatchError{Op: "remove", Path: dir, Err: err}
	}
	return nil
}

func (a *FsnotifyAdapter) Events() <-chan Event { return a.events }

func (a *FsnotifyAdapter) Errors() <-chan error { return a.errors }

// Close stops forwarding and closes the underlying watcher.
func (a *FsnotifyAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.done)
	err := a.watcher.Close()
	a.stopped.Wait()
	return err
}

func (a *FsnotifyAdapter) forward() {
	defer a.stopped.Done()
	defer close(a.events)

	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			translated, ok := a.translate(event)
			if !ok {
				continue
			}
			select {
			case a.events <- translated:
			case <-a.done:
				return
			}

		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				err = ErrOverflow
			}
			select {
			case a.errors <- err:
			case <-a.done:
				return
			}

		case <-a.done:
			return
		}
	}
}

// translate maps an fsnotify event, which carries a full path, back to the
// handle of its directory. Events on a watched directory itself resolve to
// that directory's handle with an empty name.
func (a *FsnotifyAdapter) translate(event fsnotify.Event) (Event, bool) {
	name := filepath.Clean(event.Name)

	a.mu.Lock()
	defer a.mu.Unlock()

	if h, ok := a.handles[filepath.Dir(name)]; ok {
		return Event{Handle: h, Name: filepath.Base(name), Mask: Mask(event.Op)}, true
	}
	if h, ok := a.handles[name]; ok {
		return Event{Handle: h, Mask: Mask(event.Op)}, true
	}
	return Event{}, false
}
