package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed          = errors.New("resource table closed")
	ErrReleaseInFlight = errors.New("resource release already in progress")
)

// Table holds the resources of a single loader.
type Table struct {
	observer Observer
	entries  []entry
	live     atomic.Int64
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	releaser  Releaser
	kind      Kind
	valid     bool
	releasing bool
}

// NewTable creates an empty table. obs may be nil.
func NewTable(obs Observer) *Table {
	return &Table{
		observer: obs,
		entries:  make([]entry, 0, 8),
	}
}

// Insert attaches a resource and returns its handle.
// Returns 0 if the table is closed or r is nil.
func (t *Table) Insert(kind Kind, r Releaser) Handle {
	if r == nil {
		return 0
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	t.entries = append(t.entries, entry{
		releaser: r,
		kind:     kind,
		valid:    true,
	})
	t.live.Add(1)
	handle := Handle(len(t.entries))
	t.mu.Unlock()

	t.notify(Event{Type: EventAttached, Handle: handle, Kind: kind})
	return handle
}

// Get retrieves a resource by handle.
func (t *Table) Get(handle Handle) (Releaser, Kind, bool) {
	if handle == 0 {
		return nil, 0, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := int(handle) - 1
	if idx >= len(t.entries) {
		return nil, 0, false
	}

	e := t.entries[idx]
	if !e.valid {
		return nil, 0, false
	}
	return e.releaser, e.kind, true
}

// Release releases the resource behind handle and removes it from the table.
// Releasing an unknown or already released handle returns nil. On failure the
// handle stays in the table and the Releaser's error is returned.
func (t *Table) Release(ctx context.Context, handle Handle) error {
	if handle == 0 {
		return nil
	}

	t.mu.Lock()
	idx := int(handle) - 1
	if idx >= len(t.entries) || !t.entries[idx].valid {
		t.mu.Unlock()
		return nil
	}
	e := &t.entries[idx]
	if e.releasing {
		t.mu.Unlock()
		return ErrReleaseInFlight
	}
	e.releasing = true
	r, kind := e.releaser, e.kind
	t.mu.Unlock()

	err := safeRelease(ctx, r)

	t.mu.Lock()
	e = &t.entries[idx]
	e.releasing = false
	if err == nil {
		e.valid = false
		e.releaser = nil
		t.live.Add(-1)
	}
	t.mu.Unlock()

	if err != nil {
		t.notify(Event{Type: EventReleaseFailed, Handle: handle, Kind: kind, Err: err})
		return err
	}
	t.notify(Event{Type: EventReleased, Handle: handle, Kind: kind})
	return nil
}

// Handles returns the live handles in attach order.
func (t *Table) Handles() []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	handles := make([]Handle, 0, t.live.Load())
	for i, e := range t.entries {
		if e.valid {
			handles = append(handles, Handle(i+1))
		}
	}
	return handles
}

// Each iterates over all live resources.
func (t *Table) Each(fn func(Handle, Kind) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, e := range t.entries {
		if e.valid {
			if !fn(Handle(i+1), e.kind) {
				break
			}
		}
	}
}

// Len returns the number of live resources without locking.
func (t *Table) Len() int {
	return int(t.live.Load())
}

// Close stops accepting new resources. Resources already attached stay
// releasable.
func (t *Table) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *Table) notify(e Event) {
	if t.observer != nil {
		t.observer.OnResourceEvent(e)
	}
}

// safeRelease turns a panicking Releaser into a failed release so the handle
// stays retryable.
func safeRelease(ctx context.Context, r Releaser) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("release panicked: %v", p)
		}
	}()
	return r.Release(ctx)
}
