package registry

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/resource"
)

// Record is the registry's view of one class loader.
//
// State and Pending can be read at any time without locking. Every mutation
// happens under the record lock; methods with a Locked suffix expect the
// caller to hold it.
type Record struct {
	processed map[incinerator.ObjectID]struct{}
	resources *resource.Table
	id        incinerator.Identity
	pending   atomic.Int64
	mu        sync.Mutex
	state     atomic.Int32
}

func newRecord(id incinerator.Identity, state incinerator.State, pending int64, obs resource.Observer) *Record {
	rec := &Record{
		id:        id,
		resources: resource.NewTable(obs),
		processed: make(map[incinerator.ObjectID]struct{}),
	}
	rec.state.Store(int32(state))
	rec.pending.Store(pending)
	return rec
}

// ID returns the loader identity.
func (r *Record) ID() incinerator.Identity {
	return r.id
}

// State returns the current state without locking.
func (r *Record) State() incinerator.State {
	return incinerator.State(r.state.Load())
}

// Pending returns the current pending-reference count without locking.
func (r *Record) Pending() int64 {
	return r.pending.Load()
}

// Resources returns the loader's resource table.
func (r *Record) Resources() *resource.Table {
	return r.resources
}

// Lock acquires the record's mutation lock.
func (r *Record) Lock() {
	r.mu.Lock()
}

// Unlock releases the record's mutation lock.
func (r *Record) Unlock() {
	r.mu.Unlock()
}

// TransitionLocked moves the record from one state to another.
// It returns false if the record is not in state from.
func (r *Record) TransitionLocked(from, to incinerator.State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// AdjustPendingLocked applies delta to the pending-reference count and
// returns the new count. A result below zero is refused with
// NegativePendingCount and leaves the count untouched.
func (r *Record) AdjustPendingLocked(delta int64) (int64, error) {
	state := r.State()
	if state == incinerator.Live || state == incinerator.Swept {
		return r.pending.Load(), errors.UnknownLoader(errors.PhaseCorrelate, r.id)
	}
	if state == incinerator.PendingSweep && delta > 0 {
		return r.pending.Load(), errors.InvalidState(errors.PhaseCorrelate, r.id, state)
	}

	cur := r.pending.Load()
	next := cur + delta
	if next < 0 {
		return cur, errors.NegativePendingCount(r.id, cur, delta)
	}
	r.pending.Store(next)
	return next, nil
}

// VoidPendingLocked drops every outstanding pending reference.
func (r *Record) VoidPendingLocked() {
	r.pending.Store(0)
}

// ClaimObjectLocked records that obj has been correlated with this loader.
// It returns false if obj was already claimed.
func (r *Record) ClaimObjectLocked(obj incinerator.ObjectID) bool {
	if _, dup := r.processed[obj]; dup {
		return false
	}
	r.processed[obj] = struct{}{}
	return true
}

// ResetProcessedLocked forgets every claimed object.
func (r *Record) ResetProcessedLocked() {
	clear(r.processed)
}

// Snapshot copies the record's observable state without locking.
func (r *Record) Snapshot() RecordState {
	return RecordState{
		ID:      r.id,
		State:   r.State(),
		Pending: r.Pending(),
		Handles: r.resources.Len(),
	}
}

// RecordState is a point-in-time copy of a Record.
type RecordState struct {
	ID      incinerator.Identity
	State   incinerator.State
	Pending int64
	Handles int
}
