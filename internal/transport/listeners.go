package transport

import "sync"

// Listeners is a stable subscription set. Callbacks are registered once and
// stay until their unsubscribe func runs; Publish delivers in registration
// order. Transports embed one per event kind.
type Listeners[T any] struct {
	mu         sync.RWMutex
	entries    []listener[T]
	nextHandle int
}

type listener[T any] struct {
	handle   int
	callback func(T)
}

// Add registers callback and returns its unsubscribe func. Calling the
// func more than once is harmless.
func (l *Listeners[T]) Add(callback func(T)) func() {
	if callback == nil {
		return func() {}
	}
	l.mu.Lock()
	handle := l.nextHandle
	l.nextHandle++
	l.entries = append(l.entries, listener[T]{handle: handle, callback: callback})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(handle) })
	}
}

func (l *Listeners[T]) remove(handle int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.handle == handle {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

// Publish calls every registered callback with v. The set is copied first so
// a callback may unsubscribe itself.
func (l *Listeners[T]) Publish(v T) {
	l.mu.RLock()
	entries := make([]listener[T], len(l.entries))
	copy(entries, l.entries)
	l.mu.RUnlock()

	for _, e := range entries {
		e.callback(v)
	}
}

// Len returns the number of registered callbacks.
func (l *Listeners[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
