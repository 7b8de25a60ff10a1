// Package notify abstracts the OS file-change notification facility behind a
// directory-granularity Adapter.
package notify

import (
	"errors"
	"fmt"
	"runtime"
)

// Handle identifies a directory watch. Handles are unique among the watches
// that are currently active on one Adapter.
type Handle int

// Mask is the backend-specific event mask. It is passed through untouched.
type Mask uint32

// Event is a raw notification for an entry inside a watched directory.
// Name is the entry's base name and is empty for events on the directory
// itself.
type Event struct {
	Handle Handle
	Name   string
	Mask   Mask
}

// Adapter is a directory-level notification source.
type Adapter interface {
	// AddWatch subscribes to every event type on dir.
	AddWatch(dir string) (Handle, error)
	// RemoveWatch cancels a subscription created by AddWatch.
	RemoveWatch(h Handle) error
	// Events delivers raw events in the order the OS emitted them.
	// The channel is closed by Close.
	Events() <-chan Event
	// Errors delivers asynchronous failures such as ErrOverflow.
	Errors() <-chan error
	Close() error
}

// ErrOverflow reports that the OS dropped events because its queue was full.
var ErrOverflow = errors.New("notification queue overflow")

// ErrClosed is returned by operations on a closed adapter.
var ErrClosed = errors.New("adapter closed")

// WatchError reports a rejected AddWatch or RemoveWatch.
type WatchError struct {
	Op   string
	Path string
	Err  error
}

func (e *WatchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s watch: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s watch %s: %v", e.Op, e.Path, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}

const (
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// DefaultBackend is inotify on linux and fsnotify everywhere else.
func DefaultBackend() string {
	if runtime.GOOS == "linux" {
		return BackendInotify
	}
	return BackendFsnotify
}

// New creates an adapter for the named backend. An empty name selects
// DefaultBackend.
func New(backend string) (Adapter, error) {
	if backend == "" {
		backend = DefaultBackend()
	}
	switch backend {
	case BackendInotify:
		a, err := NewInotify()
		if err != nil {
			return nil, err
		}
		return a, nil
	case BackendFsnotify:
		a, err := NewFsnotify()
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown notification backend %q", backend)
	}
}
