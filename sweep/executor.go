package sweep

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/metrics"
	"github.com/wippyai/incinerator/registry"
	"github.com/wippyai/incinerator/scheduler"
)

// DefaultWorkers is the sweep pool size when Options.Workers is 0.
const DefaultWorkers = 4

// Outcome is the result of sweeping one loader.
type Outcome int

const (
	// Skipped means the loader was not PendingSweep when its turn came.
	Skipped Outcome = iota
	// Swept means every handle was released and the record removed.
	Swept
	// Requeued means some handles failed and the loader waits for the next pass.
	Requeued
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return metrics.SweepSkipped
	case Swept:
		return metrics.SweepSwept
	case Requeued:
		return metrics.SweepRequeued
	default:
		return "unknown"
	}
}

// Result describes one Sweep call.
type Result struct {
	ID       incinerator.Identity
	Failures []error
	Released int
	Outcome  Outcome
}

// Options configures executor behavior.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Workers bounds the number of loaders swept concurrently by Run.
	// 0 means DefaultWorkers.
	Workers int
}

// Executor sweeps loaders handed out by the scheduler.
// Thread-safe.
type Executor struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	log       *zap.Logger
	workers   int
}

// New creates an executor.
func New(reg *registry.Registry, sched *scheduler.Scheduler, opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Executor{
		registry:  reg,
		scheduler: sched,
		metrics:   opts.Metrics,
		log:       log.Named("sweep"),
		workers:   workers,
	}
}

// Workers returns the pool size used by Run.
func (e *Executor) Workers() int {
	return e.workers
}

// Sweep releases every handle of a PendingSweep loader.
//
// The record lock is held for the whole sweep, so no other sweep or
// mutation of the record can overlap it. Handle failures are logged and
// returned in the Result; they never abort the sweep.
func (e *Executor) Sweep(ctx context.Context, id incinerator.Identity) Result {
	start := time.Now()
	res := e.sweep(ctx, id)
	e.metrics.RecordSweep(res.Outcome.String(), time.Since(start).Seconds())
	return res
}

func (e *Executor) sweep(ctx context.Context, id incinerator.Identity) Result {
	res := Result{ID: id}

	rec := e.registry.Lookup(id)
	if rec == nil {
		e.log.Debug("sweep skipped, loader gone", zap.Stringer("loader", id))
		return res
	}

	rec.Lock()
	locked := true
	unlock := func() {
		if locked {
			locked = false
			rec.Unlock()
		}
	}
	defer unlock()

	if state := rec.State(); state != incinerator.PendingSweep {
		e.log.Debug("sweep skipped",
			zap.Stringer("loader", id), zap.Stringer("state", state))
		return res
	}

	table := rec.Resources()
	for _, h := range table.Handles() {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures,
				errors.Wrap(errors.PhaseSweep, errors.KindHandleReleaseFailure, err, "sweep interrupted"))
			break
		}

		_, kind, ok := table.Get(h)
		if !ok {
			continue
		}
		if err := table.Release(ctx, h); err != nil {
			ferr := errors.HandleReleaseFailure(id, uint32(h), kind.String(), err)
			e.log.Warn("handle release failed",
				zap.Stringer("loader", id),
				zap.Uint32("handle", uint32(h)),
				zap.Stringer("kind", kind),
				zap.Error(err))
			res.Failures = append(res.Failures, ferr)
			continue
		}
		res.Released++
		e.log.Debug("handle released",
			zap.Stringer("loader", id),
			zap.Uint32("handle", uint32(h)),
			zap.Stringer("kind", kind))
	}

	if left := table.Len(); left > 0 {
		unlock()
		res.Outcome = Requeued
		e.scheduler.Requeue(id)
		e.log.Info("loader partially swept",
			zap.Stringer("loader", id),
			zap.Int("released", res.Released),
			zap.Int("remaining", left))
		return res
	}

	rec.TransitionLocked(incinerator.PendingSweep, incinerator.Swept)
	rec.ResetProcessedLocked()
	table.Close()
	unlock()

	e.registry.Remove(id)
	res.Outcome = Swept
	e.log.Info("loader swept",
		zap.Stringer("loader", id), zap.Int("released", res.Released))
	return res
}

// safeSweep keeps a panic in one sweep from escaping Run.
func (e *Executor) safeSweep(ctx context.Context, id incinerator.Identity) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("sweep panicked",
				zap.Stringer("loader", id), zap.Any("panic", p))
			res = Result{
				ID:      id,
				Outcome: Skipped,
				Failures: []error{errors.New(errors.PhaseSweep, errors.KindInvalidState).
					Loader(id).
					Detail("sweep panicked: %v", p).
					Build()},
			}
		}
	}()
	return e.Sweep(ctx, id)
}

func (r Result) String() string {
	return fmt.Sprintf("%s %s released=%d failures=%d", r.ID, r.Outcome, r.Released, len(r.Failures))
}
