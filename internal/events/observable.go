package events

import (
	"sync"
)

// Observable holds the latest value of T and pushes every change to the
// registered channels. Sends are non-blocking: a full channel misses the
// value but can always read the current one back with Latest.
type Observable[T any] struct {
	mu        sync.RWMutex
	channels  map[uint64]chan<- T
	nextID    uint64
	value     T
	hasValue  bool
	replayOld bool
}

// NewObservable creates an Observable. When replay is true, new listeners
// immediately receive the latest value if one has been published.
func NewObservable[T any](replay bool) *Observable[T] {
	return &Observable[T]{
		channels:  make(map[uint64]chan<- T),
		replayOld: replay,
	}
}

// NewObservableWithValue creates a replaying Observable seeded with an initial value.
func NewObservableWithValue[T any](initial T) *Observable[T] {
	o := NewObservable[T](true)
	o.value = initial
	o.hasValue = true
	return o
}

// Listen registers a channel and returns its deregistration function.
func (o *Observable[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("Observable: channel cannot be nil")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.channels[id] = ch
	if o.replayOld && o.hasValue {
		select {
		case ch <- o.value:
		default:
		}
	}

	return func() {
		o.mu.Lock()
		delete(o.channels, id)
		o.mu.Unlock()
	}
}

// Publish replaces the latest value and sends it to every listener.
func (o *Observable[T]) Publish(value T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publishLocked(value)
}

// Update atomically derives the next value from the current one and
// publishes it. Listeners see updates in the order they were applied.
func (o *Observable[T]) Update(fn func(current T) T) T {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := fn(o.value)
	o.publishLocked(next)
	return next
}

// Latest returns the most recently published value.
func (o *Observable[T]) Latest() (T, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value, o.hasValue
}

// ListenerCount is for tests and debugging.
func (o *Observable[T]) ListenerCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.channels)
}

func (o *Observable[T]) publishLocked(value T) {
	o.value = value
	o.hasValue = true
	for _, ch := range o.channels {
		select {
		case ch <- value:
		default:
			// full, skip
		}
	}
}
