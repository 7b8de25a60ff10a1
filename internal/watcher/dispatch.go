package watcher

import (
	"errors"
	"fmt"

	"github.com/eshe-huli/ringforge/fem/internal/notify"
)

func (m *Manager) run() {
	defer close(m.done)

	events := m.adapter.Events()
	errs := m.adapter.Errors()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			m.dispatch(event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.handleError(err)
		}
	}
}

// dispatch pushes event into the buffer of every watched file it names and
// invokes the file's callback when the buffer admits it.
func (m *Manager) dispatch(event notify.Event) {
	for _, file := range m.resolve(event) {
		if !file.buffer.Push(event.Mask) {
			m.logger.Debug("event debounced", "path", file.path, "mask", event.Mask)
			continue
		}

		// Unwatch or RmCallback may have run since resolve.
		m.mu.Lock()
		callback, ok := m.callbacks[file.key]
		_, dir, name := splitPath(file.key)
		current := m.fileLocked(dir, name) == file
		m.mu.Unlock()
		if !ok || !current {
			continue
		}

		m.invoke(callback, file, event.Mask)
	}
}

// resolve maps a raw event to the watched files with a live callback. Events
// for handles that were just removed, or for entries nobody watches, resolve
// to nothing and are dropped.
func (m *Manager) resolve(event notify.Event) []*watchedFile {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirs, ok := m.handles[event.Handle]
	if !ok {
		m.logger.Debug("event for unknown handle dropped", "handle", event.Handle, "name", event.Name)
		return nil
	}

	var files []*watchedFile
	for _, dir := range dirs {
		dw := m.dirs[dir]
		if dw == nil {
			continue
		}
		file := dw.files[event.Name]
		if file == nil {
			continue
		}
		if _, ok := m.callbacks[file.key]; !ok {
			continue
		}
		files = append(files, file)
	}
	return files
}

func (m *Manager) invoke(callback Callback, file *watchedFile, mask notify.Mask) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("callback for %s panicked: %v", file.path, r)
			m.logger.Error("callback panicked", "path", file.path, "id", file.id, "panic", r)
			m.report(err)
		}
	}()
	callback(file.id, file.path, mask)
}

func (m *Manager) handleError(err error) {
	if errors.Is(err, notify.ErrOverflow) {
		m.logger.Warn("notification queue overflowed, events were lost")
	} else {
		m.logger.Warn("notification adapter error", "error", err)
	}
	m.report(err)
}

func (m *Manager) report(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}
