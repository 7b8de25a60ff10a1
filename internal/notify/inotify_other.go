//go:build !linux

package notify

import "errors"

// AllEvents is unused outside linux; backends there report their own masks.
const AllEvents = 0

// InotifyAdapter is only available on linux.
type InotifyAdapter struct{ Adapter }

// NewInotify always fails outside linux.
func NewInotify() (*InotifyAdapter, error) {
	return nil, errors.New("inotify backend is only available on linux")
}
