package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/registry"
)

func newTestScheduler() (*registry.Registry, *Scheduler) {
	reg := registry.New(registry.Options{})
	return reg, New(reg, Options{})
}

func collect(s *Scheduler) []incinerator.Identity {
	var out []incinerator.Identity
	for id := range s.Drain() {
		out = append(out, id)
	}
	return out
}

func TestScheduler_EnqueueEligible(t *testing.T) {
	reg, s := newTestScheduler()
	id := incinerator.NewIdentity()
	reg.MarkStale(id)

	if !s.Enqueue(id) {
		t.Fatal("Enqueue of an eligible loader should succeed")
	}
	if s.Len() != 1 {
		t.Fatalf("Expected queue length 1, got %d", s.Len())
	}
	if got := reg.Lookup(id).State(); got != incinerator.PendingSweep {
		t.Fatalf("Expected PendingSweep, got %v", got)
	}
}

func TestScheduler_EnqueueIdempotent(t *testing.T) {
	reg, s := newTestScheduler()
	id := incinerator.NewIdentity()
	reg.MarkStale(id)

	s.Enqueue(id)
	for i := 0; i < 3; i++ {
		if s.Enqueue(id) {
			t.Fatalf("Enqueue #%d should be a no-op", i+2)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("Expected queue length 1, got %d", s.Len())
	}
}

func TestScheduler_EnqueueRefused(t *testing.T) {
	reg, s := newTestScheduler()

	pending := incinerator.NewIdentity()
	reg.MarkStalePending(pending, 1)

	live := incinerator.NewIdentity()
	reg.Track(live)

	tests := []struct {
		name string
		id   incinerator.Identity
	}{
		{"pending references", pending},
		{"live loader", live},
		{"unknown loader", incinerator.NewIdentity()},
		{"null identity", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s.Enqueue(tt.id) {
				t.Fatal("Enqueue should be refused")
			}
		})
	}
	if s.Len() != 0 {
		t.Fatalf("Expected empty queue, got %d", s.Len())
	}
	if got := reg.Lookup(pending).State(); got != incinerator.MarkedStale {
		t.Fatalf("refused loader should stay MarkedStale, got %v", got)
	}
}

func TestScheduler_DrainFIFO(t *testing.T) {
	reg, s := newTestScheduler()

	var want []incinerator.Identity
	for i := 0; i < 10; i++ {
		id := incinerator.NewIdentity()
		reg.MarkStale(id)
		s.Enqueue(id)
		want = append(want, id)
	}

	got := collect(s)
	if len(got) != len(want) {
		t.Fatalf("Expected %d drained, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if s.Len() != 0 {
		t.Fatalf("queue should be empty after drain, got %d", s.Len())
	}
}

func TestScheduler_DrainIsFinite(t *testing.T) {
	reg, s := newTestScheduler()

	first := incinerator.NewIdentity()
	reg.MarkStale(first)
	s.Enqueue(first)

	var late []incinerator.Identity
	var drained []incinerator.Identity
	for id := range s.Drain() {
		drained = append(drained, id)
		// Loaders that become eligible mid-drain wait for the next one.
		next := incinerator.NewIdentity()
		reg.MarkStale(next)
		s.Enqueue(next)
		late = append(late, next)
	}

	if len(drained) != 1 || drained[0] != first {
		t.Fatalf("Expected only the first loader, got %v", drained)
	}
	if s.Len() != 1 || !s.Queued(late[0]) {
		t.Fatal("late loader should remain queued")
	}
}

func TestScheduler_DrainLazy(t *testing.T) {
	reg, s := newTestScheduler()
	for i := 0; i < 3; i++ {
		id := incinerator.NewIdentity()
		reg.MarkStale(id)
		s.Enqueue(id)
	}

	seq := s.Drain()
	if s.Len() != 3 {
		t.Fatal("Drain must not consume before iteration")
	}
	for range seq {
		break
	}
	if s.Len() != 2 {
		t.Fatalf("stopping early should leave the rest queued, got %d", s.Len())
	}
}

func TestScheduler_Requeue(t *testing.T) {
	reg, s := newTestScheduler()
	id := incinerator.NewIdentity()
	reg.MarkStale(id)
	s.Enqueue(id)

	if s.Requeue(id) {
		t.Fatal("Requeue of an already queued loader should be a no-op")
	}

	collect(s)
	if !s.Requeue(id) {
		t.Fatal("Requeue of a drained PendingSweep loader should succeed")
	}
	if !s.Queued(id) {
		t.Fatal("loader should be queued again")
	}

	other := incinerator.NewIdentity()
	reg.MarkStale(other)
	if s.Requeue(other) {
		t.Fatal("Requeue of a MarkedStale loader should be refused")
	}
}

func TestScheduler_ConcurrentEnqueue(t *testing.T) {
	reg, s := newTestScheduler()
	id := incinerator.NewIdentity()
	reg.MarkStale(id)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Enqueue(id) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Fatalf("Expected 1 accepted enqueue, got %d", accepted.Load())
	}
	if s.Len() != 1 {
		t.Fatalf("Expected queue length 1, got %d", s.Len())
	}
}
