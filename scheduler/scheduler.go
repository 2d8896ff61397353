// Package scheduler decides when stale loaders are swept.
//
// A loader becomes eligible once it is MarkedStale with no pending
// references. Eligible loaders wait in a FIFO queue ordered by the moment they
// became eligible, so loaders that died first are reclaimed first.
package scheduler

import (
	"iter"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/metrics"
	"github.com/wippyai/incinerator/registry"
)

// Options configures scheduler behavior.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Scheduler owns the sweep queue.
// Thread-safe.
type Scheduler struct {
	registry *registry.Registry
	queue    *btree.BTreeG[item]
	queued   map[incinerator.Identity]uint64
	metrics  *metrics.Metrics
	log      *zap.Logger
	seq      uint64
	mu       sync.Mutex
}

type item struct {
	id  incinerator.Identity
	seq uint64
}

func lessBySeq(a, b item) bool {
	return a.seq < b.seq
}

// New creates a scheduler over reg.
func New(reg *registry.Registry, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	return &Scheduler{
		registry: reg,
		queue:    btree.NewG[item](8, lessBySeq),
		queued:   make(map[incinerator.Identity]uint64),
		metrics:  opts.Metrics,
		log:      log.Named("scheduler"),
	}
}

// Enqueue moves a MarkedStale loader with no pending references to
// PendingSweep and appends it to the queue. Every other case is a no-op,
// including loaders already queued, in flight or swept.
func (s *Scheduler) Enqueue(id incinerator.Identity) bool {
	rec := s.registry.Lookup(id)
	if rec == nil {
		return false
	}

	rec.Lock()
	defer rec.Unlock()

	if rec.Pending() != 0 {
		s.log.Debug("enqueue refused, references pending",
			zap.Stringer("loader", id), zap.Int64("pending", rec.Pending()))
		return false
	}
	if !rec.TransitionLocked(incinerator.MarkedStale, incinerator.PendingSweep) {
		return false
	}

	s.push(id)
	s.log.Info("loader eligible for sweep", zap.Stringer("loader", id))
	return true
}

// Requeue puts a PendingSweep loader back on the queue so a later pass can
// retry it. It is a no-op if the loader is already queued or not
// PendingSweep.
func (s *Scheduler) Requeue(id incinerator.Identity) bool {
	rec := s.registry.Lookup(id)
	if rec == nil {
		return false
	}

	rec.Lock()
	defer rec.Unlock()

	if rec.State() != incinerator.PendingSweep {
		return false
	}
	if !s.push(id) {
		return false
	}
	s.log.Info("loader requeued",
		zap.Stringer("loader", id), zap.Int("handles", rec.Resources().Len()))
	return true
}

// Drain returns the loaders ready to sweep in eligibility order. Each loader
// is removed from the queue as it is yielded. Only loaders queued before the
// iteration starts are yielded; later ones wait for the next Drain.
func (s *Scheduler) Drain() iter.Seq[incinerator.Identity] {
	return func(yield func(incinerator.Identity) bool) {
		s.mu.Lock()
		mark := s.seq
		s.mu.Unlock()

		for {
			id, ok := s.pop(mark)
			if !ok {
				return
			}
			if !yield(id) {
				return
			}
		}
	}
}

// Queued reports whether id is waiting in the queue.
func (s *Scheduler) Queued(id incinerator.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queued[id]
	return ok
}

// Len returns the queue depth.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) push(id incinerator.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queued[id]; ok {
		return false
	}
	s.seq++
	s.queued[id] = s.seq
	s.queue.ReplaceOrInsert(item{id: id, seq: s.seq})
	s.metrics.SetQueueDepth(s.queue.Len())
	return true
}

func (s *Scheduler) pop(mark uint64) (incinerator.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok := s.queue.Min()
	if !ok || head.seq > mark {
		return "", false
	}
	s.queue.DeleteMin()
	delete(s.queued, head.id)
	s.metrics.SetQueueDepth(s.queue.Len())
	return head.id, true
}
