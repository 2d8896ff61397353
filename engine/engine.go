package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/correlator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/metrics"
	"github.com/wippyai/incinerator/registry"
	"github.com/wippyai/incinerator/resource"
	"github.com/wippyai/incinerator/scheduler"
	"github.com/wippyai/incinerator/sweep"
)

// DefaultTriggerDelay is the pause between a trigger and the pass it starts.
const DefaultTriggerDelay = 300 * time.Millisecond

// Config holds configuration for engine creation
type Config struct {
	// Metrics receives engine metrics. nil disables metrics.
	Metrics *metrics.Metrics

	// Logger overrides the package logger.
	Logger *zap.Logger

	// Workers bounds concurrent loader sweeps in a pass.
	// 0 means sweep.DefaultWorkers.
	Workers int

	// TriggerDelay is how long background maintenance waits after a trigger
	// before running a pass. 0 means DefaultTriggerDelay.
	TriggerDelay time.Duration
}

// Engine is the reclamation engine.
// Thread-safe.
type Engine struct {
	registry   *registry.Registry
	scheduler  *scheduler.Scheduler
	correlator *correlator.Correlator
	executor   *sweep.Executor
	metrics    *metrics.Metrics
	log        *zap.Logger

	trigger      chan struct{}
	done         chan struct{}
	cancel       context.CancelFunc
	triggerDelay time.Duration
	passes       atomic.Int64
	requested    atomic.Bool
	mu           sync.Mutex
	state        maintenanceState
}

// New creates an engine. cfg may be nil for defaults.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}
	delay := cfg.TriggerDelay
	if delay <= 0 {
		delay = DefaultTriggerDelay
	}

	e := &Engine{
		metrics:      cfg.Metrics,
		log:          log.Named("engine"),
		trigger:      make(chan struct{}, 1),
		triggerDelay: delay,
	}

	// A nil *Metrics must not become a non-nil Observer interface.
	var obs resource.Observer
	if cfg.Metrics != nil {
		obs = cfg.Metrics
	}

	e.registry = registry.New(registry.Options{Observer: obs, Logger: log})
	e.scheduler = scheduler.New(e.registry, scheduler.Options{Metrics: cfg.Metrics, Logger: log})
	e.correlator = correlator.New(e.registry, e.scheduler, correlator.Options{
		Metrics:    cfg.Metrics,
		Logger:     log,
		OnEligible: e.eligible,
	})
	e.executor = sweep.New(e.registry, e.scheduler, sweep.Options{
		Metrics: cfg.Metrics,
		Logger:  log,
		Workers: cfg.Workers,
	})
	return e
}

// MarkClassLoaderStale records that the loader behind ref is unreachable.
// The loader's pending-reference count is seeded from
// ref.PendingFinalizers; a loader with nothing pending is queued at once.
//
// A nil ref is the capability probe and returns false. The result is true
// only for the call that performed the transition.
func (e *Engine) MarkClassLoaderStale(ref incinerator.LoaderRef) bool {
	if ref == nil {
		e.log.Debug("probe: null loader")
		return false
	}

	id := ref.LoaderID()
	pending := ref.PendingFinalizers()
	if !e.registry.MarkStalePending(id, int64(pending)) {
		return false
	}
	e.metrics.RecordMark()

	if pending == 0 && e.scheduler.Enqueue(id) {
		e.eligible(id)
	}
	return true
}

// NotifyObjectFinalized feeds a finalization notification to the
// correlator. It does bounded work and never sweeps.
func (e *Engine) NotifyObjectFinalized(obj incinerator.ObjectRef) {
	e.correlator.OnObjectFinalized(obj)
}

// IsObjectStale reports whether obj's class was defined by a loader that is
// marked stale or waiting to be swept. Never blocks.
func (e *Engine) IsObjectStale(obj incinerator.ObjectRef) bool {
	if obj == nil {
		return false
	}
	id, ok := e.correlator.LoaderOf(obj.ClassID())
	if !ok {
		return false
	}
	snap, ok := e.registry.Snapshot(id)
	if !ok {
		return false
	}
	return snap.State == incinerator.MarkedStale || snap.State == incinerator.PendingSweep
}

// Run sweeps every loader that is eligible now. It never waits for new
// finalizations and always returns normally.
func (e *Engine) Run(ctx context.Context) sweep.Report {
	e.passes.Add(1)
	return e.executor.Run(ctx)
}

// ClassLoaderUnloading handles the runtime unloading a tracked loader
// itself. No more finalizations can arrive for it, so its pending count is
// voided and it is queued for sweep. Returns true if the loader was queued.
func (e *Engine) ClassLoaderUnloading(id incinerator.Identity) bool {
	rec := e.registry.Lookup(id)
	if rec == nil {
		return false
	}

	rec.Lock()
	marked := rec.TransitionLocked(incinerator.Live, incinerator.MarkedStale)
	state := rec.State()
	if state == incinerator.MarkedStale {
		rec.VoidPendingLocked()
	}
	rec.Unlock()

	if marked {
		e.metrics.RecordMark()
	}
	if state != incinerator.MarkedStale {
		e.log.Debug("unload ignored",
			zap.Stringer("loader", id), zap.Stringer("state", state))
		return false
	}

	e.log.Info("loader unloading", zap.Stringer("loader", id))
	if !e.scheduler.Enqueue(id) {
		return false
	}
	e.eligible(id)
	return true
}

// Attach binds a native resource to a loader. The loader is tracked as Live
// if it is not known yet. Resources cannot be attached once a loader is
// queued for sweep.
func (e *Engine) Attach(id incinerator.Identity, kind resource.Kind, r resource.Releaser) (resource.Handle, error) {
	if r == nil {
		return 0, errors.InvalidInput(errors.PhaseAttach, "nil releaser")
	}
	rec, err := e.registry.Track(id)
	if err != nil {
		return 0, err
	}

	rec.Lock()
	defer rec.Unlock()

	state := rec.State()
	if state != incinerator.Live && state != incinerator.MarkedStale {
		return 0, errors.InvalidState(errors.PhaseAttach, id, state)
	}
	h := rec.Resources().Insert(kind, r)
	if h == 0 {
		return 0, errors.InvalidState(errors.PhaseAttach, id, state)
	}

	e.log.Debug("resource attached",
		zap.Stringer("loader", id),
		zap.Uint32("handle", uint32(h)),
		zap.Stringer("kind", kind))
	return h, nil
}

// DefineClass records that loader defined class.
func (e *Engine) DefineClass(class incinerator.ClassID, loader incinerator.Identity) error {
	return e.correlator.DefineClass(class, loader)
}

// Snapshot returns the current state of a loader. Never blocks.
func (e *Engine) Snapshot(id incinerator.Identity) (registry.RecordState, bool) {
	return e.registry.Snapshot(id)
}

// Snapshots returns the state of every tracked loader. Swept loaders are
// not included.
func (e *Engine) Snapshots() []registry.RecordState {
	var out []registry.RecordState
	e.registry.Each(func(rec *registry.Record) bool {
		out = append(out, rec.Snapshot())
		return true
	})
	return out
}

// QueueLen returns the number of loaders waiting to be swept.
func (e *Engine) QueueLen() int {
	return e.scheduler.Len()
}

// Queued reports whether id is waiting to be swept.
func (e *Engine) Queued(id incinerator.Identity) bool {
	return e.scheduler.Queued(id)
}

// Passes returns the number of sweep passes run so far.
func (e *Engine) Passes() int64 {
	return e.passes.Load()
}

func (e *Engine) eligible(id incinerator.Identity) {
	e.log.Debug("loader queued", zap.Stringer("loader", id))
	e.Trigger()
}
