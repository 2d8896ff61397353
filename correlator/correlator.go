// Package correlator turns per-object finalization notifications into
// pending-reference decrements on the owning loader.
//
// Every finalized object in the managed runtime is reported, most of them
// unrelated to any stale loader. The correlator resolves object -> class ->
// loader through a class index, drops everything that does not belong to a
// MarkedStale loader, and hands a loader to the scheduler once its last
// pending reference is gone.
package correlator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/metrics"
	"github.com/wippyai/incinerator/registry"
	"github.com/wippyai/incinerator/resource"
	"github.com/wippyai/incinerator/scheduler"
)

// Options configures correlator behavior.
type Options struct {
	// OnEligible is called after a loader was handed to the scheduler.
	OnEligible func(incinerator.Identity)

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Correlator owns the class index and processes finalization events.
// Thread-safe.
type Correlator struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	classes   atomic.Pointer[btree.BTreeG[classEntry]]
	metrics   *metrics.Metrics
	log       *zap.Logger
	options   Options
	classMu   sync.Mutex
}

type classEntry struct {
	loader incinerator.Identity
	class  incinerator.ClassID
}

func lessByClass(a, b classEntry) bool {
	return a.class < b.class
}

// New creates a correlator over reg feeding sched.
func New(reg *registry.Registry, sched *scheduler.Scheduler, opts Options) *Correlator {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	c := &Correlator{
		registry:  reg,
		scheduler: sched,
		metrics:   opts.Metrics,
		log:       log.Named("correlator"),
		options:   opts,
	}
	c.classes.Store(btree.NewG(16, lessByClass))
	return c
}

// DefineClass records that loader defined class. The loader is tracked if it
// was not already, and the class entry becomes a ClassMetadata handle of the
// loader: sweeping the loader forgets the class.
//
// Defining the same class twice for the same loader is a no-op. A class
// cannot move between loaders, and a loader that is already being swept
// cannot define new classes.
func (c *Correlator) DefineClass(class incinerator.ClassID, loader incinerator.Identity) error {
	rec, err := c.registry.Track(loader)
	if err != nil {
		return err
	}

	c.classMu.Lock()
	if e, ok := c.classes.Load().Get(classEntry{class: class}); ok {
		c.classMu.Unlock()
		if e.loader == loader {
			return nil
		}
		return errors.New(errors.PhaseAttach, errors.KindInvalidInput).
			Loader(loader).
			Detail("class %d already defined by %s", class, e.loader).
			Build()
	}
	c.store(func(t *btree.BTreeG[classEntry]) {
		t.ReplaceOrInsert(classEntry{class: class, loader: loader})
	})
	c.classMu.Unlock()

	// The class index lock is never held together with a record lock:
	// releasing the handle below runs under the record lock during a sweep.
	rec.Lock()
	state := rec.State()
	var h resource.Handle
	if state == incinerator.Live || state == incinerator.MarkedStale {
		h = rec.Resources().Insert(resource.KindClassMetadata, resource.ReleaseFunc(func(context.Context) error {
			c.forget(class, loader)
			return nil
		}))
	}
	rec.Unlock()

	if h == 0 {
		c.forget(class, loader)
		return errors.InvalidState(errors.PhaseAttach, loader, state)
	}

	c.log.Debug("class defined",
		zap.Uint64("class", uint64(class)),
		zap.Stringer("loader", loader),
		zap.Uint32("handle", uint32(h)))
	return nil
}

// LoaderOf returns the loader that defined class. Never blocks.
func (c *Correlator) LoaderOf(class incinerator.ClassID) (incinerator.Identity, bool) {
	e, ok := c.classes.Load().Get(classEntry{class: class})
	if !ok {
		return "", false
	}
	return e.loader, true
}

// Classes returns the number of indexed classes.
func (c *Correlator) Classes() int {
	return c.classes.Load().Len()
}

// OnObjectFinalized processes one finalization notification.
//
// Objects whose class has no loader, whose loader is not MarkedStale, or
// that were already counted are dropped. Nothing is returned: faults are
// logged and counted only.
func (c *Correlator) OnObjectFinalized(obj incinerator.ObjectRef) {
	if obj == nil {
		c.metrics.RecordFinalization(metrics.FinalizationUnrelated)
		return
	}

	id, ok := c.LoaderOf(obj.ClassID())
	if !ok {
		c.metrics.RecordFinalization(metrics.FinalizationUnrelated)
		return
	}
	rec := c.registry.Lookup(id)
	if rec == nil {
		c.metrics.RecordFinalization(metrics.FinalizationUnrelated)
		return
	}

	// Lock-free filter. A loader being swept is PendingSweep, so this never
	// waits behind a sweep.
	if state := rec.State(); state != incinerator.MarkedStale {
		c.metrics.RecordFinalization(metrics.FinalizationNotStale)
		c.late(id, obj.ObjectID(), state)
		return
	}

	remaining, outcome, err := c.decrement(rec, obj.ObjectID())
	c.metrics.RecordFinalization(outcome)
	if outcome == metrics.FinalizationNotStale {
		c.late(id, obj.ObjectID(), rec.State())
		return
	}

	if err != nil {
		if errors.Is(err, errors.ErrNegativePendingCount) {
			c.log.DPanic("pending count underflow",
				zap.Stringer("loader", id),
				zap.Uint64("object", uint64(obj.ObjectID())),
				zap.Error(err))
			return
		}
		c.log.Warn("finalization not correlated",
			zap.Stringer("loader", id),
			zap.Uint64("object", uint64(obj.ObjectID())),
			zap.Error(err))
		return
	}
	if outcome != metrics.FinalizationCorrelated {
		return
	}

	c.log.Debug("finalization correlated",
		zap.Stringer("loader", id),
		zap.Uint64("object", uint64(obj.ObjectID())),
		zap.Int64("pending", remaining))

	if remaining == 0 && c.scheduler.Enqueue(id) {
		if c.options.OnEligible != nil {
			c.options.OnEligible(id)
		}
	}
}

// late logs a notification for a loader whose pending references were
// already exhausted. Live loaders are not counted yet and stay silent.
func (c *Correlator) late(id incinerator.Identity, obj incinerator.ObjectID, state incinerator.State) {
	if state != incinerator.PendingSweep {
		return
	}
	c.log.Warn("finalization after last pending reference",
		zap.Stringer("loader", id),
		zap.Uint64("object", uint64(obj)),
		zap.Stringer("state", state))
}

func (c *Correlator) decrement(rec *registry.Record, obj incinerator.ObjectID) (int64, string, error) {
	rec.Lock()
	defer rec.Unlock()

	if rec.State() != incinerator.MarkedStale {
		return 0, metrics.FinalizationNotStale, nil
	}
	if !rec.ClaimObjectLocked(obj) {
		return rec.Pending(), metrics.FinalizationDuplicate, nil
	}
	remaining, err := rec.AdjustPendingLocked(-1)
	if err != nil {
		return remaining, metrics.FinalizationFault, err
	}
	return remaining, metrics.FinalizationCorrelated, nil
}

func (c *Correlator) forget(class incinerator.ClassID, loader incinerator.Identity) {
	c.classMu.Lock()
	defer c.classMu.Unlock()

	if e, ok := c.classes.Load().Get(classEntry{class: class}); ok && e.loader == loader {
		c.store(func(t *btree.BTreeG[classEntry]) {
			t.Delete(e)
		})
	}
}

// store publishes a modified copy of the class index. Caller holds classMu.
func (c *Correlator) store(mutate func(*btree.BTreeG[classEntry])) {
	next := c.classes.Load().Clone()
	mutate(next)
	c.classes.Store(next)
}
