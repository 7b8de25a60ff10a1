package watcher

import "errors"

var (
	// ErrAlreadyWatched is returned by Watch for a path that is already watched.
	ErrAlreadyWatched = errors.New("file is already watched")
	// ErrNotWatched is returned for a path outside the watch set.
	ErrNotWatched = errors.New("file is not watched")
	// ErrDuplicateCallback is returned by AddCallback when one is registered.
	ErrDuplicateCallback = errors.New("file already has a callback")
	// ErrNoCallback is returned by RmCallback when none is registered.
	ErrNoCallback = errors.New("file has no callback")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("manager closed")
)
