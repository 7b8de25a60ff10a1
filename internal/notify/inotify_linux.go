//go:build linux

package notify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AllEvents is the mask requested for every directory watch.
const AllEvents = unix.IN_ALL_EVENTS

// InotifyAdapter reads raw inotify events. Handles are kernel watch
// descriptors and masks are the kernel's.
type InotifyAdapter struct {
	fd      int
	file    *os.File
	events  chan Event
	errors  chan error
	done    chan struct{}
	mu      sync.Mutex
	paths   map[Handle]string
	closed  bool
	stopped sync.WaitGroup
}

// NewInotify creates an inotify instance and starts its reader goroutine.
func NewInotify() (*InotifyAdapter, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}

	a := &InotifyAdapter{
		// A non-blocking fd wrapped in os.File parks reads on the runtime
		// poller, so Close interrupts a pending Read.
		fd:     fd,
		file:   os.NewFile(uintptr(fd), "inotify"),
		events: make(chan Event, 64),
		errors: make(chan error, 4),
		done:   make(chan struct{}),
		paths:  make(map[Handle]string),
	}
	a.stopped.Add(1)
	go a.readLoop()
	return a, nil
}

// AddWatch watches every event type on dir.
func (a *InotifyAdapter) AddWatch(dir string) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, &WatchError{Op: "add", Path: dir, Err: ErrClosed}
	}

	wd, err := unix.InotifyAddWatch(a.fd, dir, AllEvents)
	if err != nil {
		return 0, &WatchError{Op: "add", Path: dir, Err: err}
	}
	a.paths[Handle(wd)] = dir
	return Handle(wd), nil
}

// RemoveWatch removes the kernel watch for h.
func (a *InotifyAdapter) RemoveWatch(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.paths[h]
	if a.closed {
		return &WatchError{Op: "remove", Path: path, Err: ErrClosed}
	}
	delete(a.paths, h)

	if _, err := unix.InotifyRmWatch(a.fd, uint32(h)); err != nil {
		return &WatchError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func (a *InotifyAdapter) Events() <-chan Event { return a.events }

func (a *InotifyAdapter) Errors() <-chan error { return a.errors }

// Close stops the reader and releases the inotify instance.
func (a *InotifyAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.done)
	err := a.file.Close()
	a.stopped.Wait()
	return err
}

func (a *InotifyAdapter) readLoop() {
	defer a.stopped.Done()
	defer close(a.events)

	buf := make([]byte, 4096*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
	for {
		n, err := a.file.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
				return
			}
			if !a.sendError(fmt.Errorf("inotify read: %w", err)) {
				return
			}
			continue
		}
		if n < unix.SizeofInotifyEvent {
			if !a.sendError(fmt.Errorf("inotify read: short read of %d bytes", n)) {
				return
			}
			continue
		}

		offset := 0
		for offset+unix.SizeofInotifyEvent <= n {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameStart := offset + unix.SizeofInotifyEvent
			nameEnd := nameStart + int(raw.Len)
			if nameEnd > n {
				break
			}
			name := string(bytes.TrimRight(buf[nameStart:nameEnd], "\x00"))
			offset = nameEnd

			if raw.Mask&unix.IN_Q_OVERFLOW != 0 {
				if !a.sendError(ErrOverflow) {
					return
				}
				continue
			}

			event := Event{Handle: Handle(raw.Wd), Name: name, Mask: Mask(raw.Mask)}
			select {
			case a.events <- event:
			case <-a.done:
				return
			}
		}
	}
}

func (a *InotifyAdapter) sendError(err error) bool {
	select {
	case a.errors <- err:
		return true
	case <-a.done:
		return false
	}
}
