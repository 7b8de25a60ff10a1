// Package buffer provides a thread-safe "smooth surface" that keeps bursts of
// identical payloads from flooding downstream consumers.
package buffer

import (
	"sync"
	"time"
)

const (
	// DefaultInterval is the smoothing window used when none is given.
	DefaultInterval = 2 * time.Second
	// DefaultCapacity is the history size used when none is given.
	DefaultCapacity = 100
	// Unbounded disables history eviction.
	Unbounded = -1
)

// Observer receives every admitted payload.
type Observer[T comparable] func(payload T)

// Buffer admits a payload when it differs from the newest stored payload or
// when the smoothing interval has elapsed since the previous push. Rejected
// pushes still move the window forward, so an unbroken run of duplicates is
// collapsed to one admission per quiet interval.
type Buffer[T comparable] struct {
	interval  time.Duration
	capacity  int
	store     []T
	lastTime  time.Time
	observers map[uint64]Observer[T]
	nextID    uint64
	now       func() time.Time
	mu        sync.Mutex
}

// New creates a buffer with the given smoothing interval and capacity.
// A capacity <= 0 keeps every admitted payload. A negative interval admits
// every payload.
func New[T comparable](interval time.Duration, capacity int) *Buffer[T] {
	return newWithClock[T](interval, capacity, time.Now)
}

func newWithClock[T comparable](interval time.Duration, capacity int, now func() time.Time) *Buffer[T] {
	if capacity <= 0 {
		capacity = Unbounded
	}
	return &Buffer[T]{
		interval:  interval,
		capacity:  capacity,
		lastTime:  now(),
		observers: make(map[uint64]Observer[T]),
		now:       now,
	}
}

// Push offers a payload to the buffer and reports whether it was admitted.
func (b *Buffer[T]) Push(payload T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.isDuplicate(payload) || now.After(b.lastTime.Add(b.interval)) {
		b.store = append(b.store, payload)
		if b.capacity != Unbounded && len(b.store) > b.capacity {
			b.store[0] = *new(T)
			b.store = b.store[1:]
		}
		b.lastTime = now
		for _, observer := range b.observers {
			observer(payload)
		}
		return true
	}

	b.lastTime = now
	return false
}

func (b *Buffer[T]) isDuplicate(payload T) bool {
	if len(b.store) == 0 {
		return false
	}
	return b.store[len(b.store)-1] == payload
}

// Pop removes and returns the newest stored payload.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if len(b.store) == 0 {
		return zero, false
	}
	last := b.store[len(b.store)-1]
	b.store[len(b.store)-1] = zero
	b.store = b.store[:len(b.store)-1]
	return last, true
}

// Len returns the number of stored payloads.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.store)
}

// Subscribe registers an observer that is called, under the buffer lock,
// with each admitted payload. Observers must not call back into the buffer.
// The returned function removes the observer.
func (b *Buffer[T]) Subscribe(observer Observer[T]) func() {
	if observer == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.observers[id] = observer
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}
