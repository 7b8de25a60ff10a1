package watcher

import (
	"errors"
	"sync"

	"github.com/eshe-huli/ringforge/fem/internal/notify"
)

// fakeAdapter hands out one handle per directory and lets tests inject raw
// events.
type fakeAdapter struct {
	mu        sync.Mutex
	next      notify.Handle
	watches   map[notify.Handle]string
	addErr    error
	removeErr error
	adds      int
	removes   int
	events    chan notify.Event
	errors    chan error
	closeOnce sync.Once
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		watches: make(map[notify.Handle]string),
		events:  make(chan notify.Event),
		errors:  make(chan error),
	}
}

func (a *fakeAdapter) AddWatch(dir string) (notify.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.addErr != nil {
		return 0, &notify.WatchError{Op: "add", Path: dir, Err: a.addErr}
	}
	a.next++
	a.adds++
	a.watches[a.next] = dir
	return a.next, nil
}

func (a *fakeAdapter) RemoveWatch(h notify.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	dir, ok := a.watches[h]
	if !ok {
		return &notify.WatchError{Op: "remove", Err: errors.New("unknown handle")}
	}
	delete(a.watches, h)
	a.removes++
	if a.removeErr != nil {
		return &notify.WatchError{Op: "remove", Path: dir, Err: a.removeErr}
	}
	return nil
}

func (a *fakeAdapter) Events() <-chan notify.Event { return a.events }

func (a *fakeAdapter) Errors() <-chan error { return a.errors }

func (a *fakeAdapter) Close() error {
	a.closeOnce.Do(func() { close(a.events) })
	return nil
}

// handleFor returns the active handle for dir.
func (a *fakeAdapter) handleFor(dir string) (notify.Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for h, d := range a.watches {
		if d == dir {
			return h, true
		}
	}
	return 0, false
}

func (a *fakeAdapter) activeWatches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.watches)
}

// emit blocks until the dispatch goroutine has received the event.
func (a *fakeAdapter) emit(h notify.Handle, name string, mask notify.Mask) {
	a.events <- notify.Event{Handle: h, Name: name, Mask: mask}
}
