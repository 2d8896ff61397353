package registry

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/resource"
)

// Options configures registry behavior.
type Options struct {
	// Observer is attached to every record's resource table.
	Observer resource.Observer

	// Logger overrides the package logger.
	Logger *zap.Logger
}

// Registry maps loader identities to records.
// Thread-safe. Readers load an immutable tree; writers clone it under
// writeMu and publish the clone.
type Registry struct {
	records atomic.Pointer[btree.BTreeG[entry]]
	swept   atomic.Pointer[btree.BTreeG[incinerator.Identity]]
	log     *zap.Logger
	options Options
	writeMu sync.Mutex
}

type entry struct {
	rec *Record
	id  incinerator.Identity
}

func lessByID(a, b entry) bool {
	return a.id < b.id
}

// New creates an empty registry.
func New(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	r := &Registry{
		log:     log.Named("registry"),
		options: opts,
	}
	r.records.Store(btree.NewG(16, lessByID))
	r.swept.Store(btree.NewOrderedG[incinerator.Identity](16))
	return r
}

// Lookup returns the record for id, or nil. Never blocks.
func (r *Registry) Lookup(id incinerator.Identity) *Record {
	if id.IsNull() {
		return nil
	}
	e, ok := r.records.Load().Get(entry{id: id})
	if !ok {
		return nil
	}
	return e.rec
}

// Snapshot returns a copy of the record state for id. Never blocks.
// A swept identity reports State Swept even after its record is gone.
func (r *Registry) Snapshot(id incinerator.Identity) (RecordState, bool) {
	if rec := r.Lookup(id); rec != nil {
		return rec.Snapshot(), true
	}
	if r.IsSwept(id) {
		return RecordState{ID: id, State: incinerator.Swept}, true
	}
	return RecordState{}, false
}

// IsSwept reports whether id was swept and removed. Never blocks.
func (r *Registry) IsSwept(id incinerator.Identity) bool {
	return r.swept.Load().Has(id)
}

// Track returns the record for id, creating a Live one if needed.
func (r *Registry) Track(id incinerator.Identity) (*Record, error) {
	if id.IsNull() {
		return nil, errors.InvalidIdentity(errors.PhaseAttach)
	}
	rec, created, ok := r.getOrCreate(id, incinerator.Live, 0)
	if !ok || rec.State() == incinerator.Swept {
		return nil, errors.IdentityReused(errors.PhaseAttach, id)
	}
	if created {
		r.log.Debug("loader tracked", zap.Stringer("loader", id))
	}
	return rec, nil
}

// MarkStale registers id as stale with no pending references.
// See MarkStalePending.
func (r *Registry) MarkStale(id incinerator.Identity) bool {
	return r.MarkStalePending(id, 0)
}

// MarkStalePending registers id as stale and seeds its pending-reference
// count with pending in the same step. It returns true only if this call
// performed the transition; a null identity, an already stale or swept
// loader, or a negative count yield false without side effects.
func (r *Registry) MarkStalePending(id incinerator.Identity, pending int64) bool {
	if id.IsNull() {
		return false
	}
	if pending < 0 {
		r.log.Error("negative pending count at mark time",
			zap.Stringer("loader", id), zap.Int64("pending", pending))
		return false
	}

	rec, created, ok := r.getOrCreate(id, incinerator.MarkedStale, pending)
	if !ok {
		r.log.Debug("mark ignored, loader already swept", zap.Stringer("loader", id))
		return false
	}
	if created {
		r.log.Info("loader marked stale",
			zap.Stringer("loader", id), zap.Int64("pending", pending))
		return true
	}

	rec.Lock()
	defer rec.Unlock()

	if !rec.TransitionLocked(incinerator.Live, incinerator.MarkedStale) {
		r.log.Debug("mark ignored",
			zap.Stringer("loader", id), zap.Stringer("state", rec.State()))
		return false
	}
	rec.pending.Store(pending)
	r.log.Info("loader marked stale",
		zap.Stringer("loader", id), zap.Int64("pending", pending),
		zap.Int("handles", rec.resources.Len()))
	return true
}

// RecordPendingReference adjusts the pending count of id by delta and
// returns the new count.
func (r *Registry) RecordPendingReference(id incinerator.Identity, delta int64) (int64, error) {
	rec := r.Lookup(id)
	if rec == nil {
		return 0, errors.UnknownLoader(errors.PhaseCorrelate, id)
	}
	rec.Lock()
	defer rec.Unlock()
	return rec.AdjustPendingLocked(delta)
}

// Remove deletes the record of a swept loader and tombstones its identity.
func (r *Registry) Remove(id incinerator.Identity) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	records := r.records.Load().Clone()
	records.Delete(entry{id: id})
	r.records.Store(records)

	next := r.swept.Load().Clone()
	next.ReplaceOrInsert(id)
	r.swept.Store(next)
}

// Len returns the number of tracked records.
func (r *Registry) Len() int {
	return r.records.Load().Len()
}

// SweptLen returns the number of tombstoned identities.
func (r *Registry) SweptLen() int {
	return r.swept.Load().Len()
}

// Each calls fn for every tracked record in identity order.
func (r *Registry) Each(fn func(*Record) bool) {
	r.records.Load().Ascend(func(e entry) bool {
		return fn(e.rec)
	})
}

// getOrCreate returns the record for id, creating it in the given state if
// absent. ok is false if id is tombstoned.
func (r *Registry) getOrCreate(id incinerator.Identity, state incinerator.State, pending int64) (rec *Record, created, ok bool) {
	if rec := r.Lookup(id); rec != nil {
		return rec, false, true
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.IsSwept(id) {
		return nil, false, false
	}
	if rec := r.Lookup(id); rec != nil {
		return rec, false, true
	}

	rec = newRecord(id, state, pending, r.options.Observer)
	records := r.records.Load().Clone()
	records.ReplaceOrInsert(entry{id: id, rec: rec})
	r.records.Store(records)
	return rec, true, true
}
