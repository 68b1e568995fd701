package resource

import (
	"context"
	"math"
	"slices"
	"sync"
)

// Table maps integer handles to live values of type T. Handles are issued
// in increasing order and never reused, so a stale handle can never name a
// newer value. Safe for concurrent use.
type Table[T any] struct {
	entries   map[Handle]T
	observers []subscription
	next      Handle
	nextSub   uint64
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type subscription struct {
	o  Observer
	id uint64
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		entries: make(map[Handle]T),
		next:    1,
	}
}

// Insert adds a value and returns its handle.
func (t *Table[T]) Insert(value T) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	if t.next == math.MaxUint32 {
		t.mu.Unlock()
		return 0, ErrExhausted
	}
	handle := t.next
	t.next++
	t.entries[handle] = value
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: handle, Value: value})
	return handle, nil
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(handle Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[handle]
	return v, ok
}

// Remove takes a value out of the table and drops it. It reports false when
// the handle is not live, which makes a second Remove a no-op. The value is
// gone from the table even when Drop fails.
func (t *Table[T]) Remove(ctx context.Context, handle Handle) (T, bool, error) {
	t.mu.Lock()
	value, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	t.mu.Unlock()

	if !ok {
		var zero T
		return zero, false, nil
	}

	var err error
	if d, ok := any(value).(Dropper); ok {
		err = d.Drop(ctx)
	}

	t.notify(Event{Type: EventDropped, Handle: handle, Value: value, Err: err})
	return value, true, err
}

// Each calls fn for every live value in handle order until fn returns false.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.mu.RLock()
	handles := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		handles = append(handles, h)
	}
	t.mu.RUnlock()
	slices.Sort(handles)

	for _, h := range handles {
		v, ok := t.Get(h)
		if !ok {
			continue
		}
		if !fn(h, v) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it. Calling the returned function more than once is a no-op.
func (t *Table[T]) Subscribe(o Observer) (unsubscribe func()) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.nextSub++
	id := t.nextSub
	t.observers = append(t.observers, subscription{id: id, o: o})

	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		t.observers = slices.DeleteFunc(t.observers, func(s subscription) bool {
			return s.id == id
		})
	}
}

// Len returns the number of live values.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear drops every value, newest first, and returns the first Drop error.
func (t *Table[T]) Clear(ctx context.Context) error {
	var handles []Handle
	t.Each(func(h Handle, _ T) bool {
		handles = append(handles, h)
		return true
	})

	var firstErr error
	for i := len(handles) - 1; i >= 0; i-- {
		if _, _, err := t.Remove(ctx, handles[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close stops accepting inserts and drops every value.
func (t *Table[T]) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	return t.Clear(ctx)
}

func (t *Table[T]) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, s := range t.observers {
		s.o.OnResourceEvent(e)
	}
}
