package sweep

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/metrics"
	"github.com/wippyai/incinerator/registry"
	"github.com/wippyai/incinerator/resource"
	"github.com/wippyai/incinerator/scheduler"
)

type countingReleaser struct {
	err   error
	count atomic.Int32
	fails atomic.Int32
}

func (r *countingReleaser) Release(context.Context) error {
	if r.fails.Load() > 0 {
		r.fails.Add(-1)
		return r.err
	}
	r.count.Add(1)
	return nil
}

type fixture struct {
	reg   *registry.Registry
	sched *scheduler.Scheduler
	exec  *Executor
	m     *metrics.Metrics
}

func newFixture(workers int) *fixture {
	m := metrics.New(prometheus.NewRegistry())
	reg := registry.New(registry.Options{Observer: m})
	sched := scheduler.New(reg, scheduler.Options{Metrics: m})
	return &fixture{
		reg:   reg,
		sched: sched,
		exec:  New(reg, sched, Options{Metrics: m, Workers: workers}),
		m:     m,
	}
}

// eligible tracks a loader with the given releasers, marks it stale with no
// pending references and queues it.
func (f *fixture) eligible(t *testing.T, releasers ...resource.Releaser) incinerator.Identity {
	t.Helper()
	id := incinerator.NewIdentity()
	rec, err := f.reg.Track(id)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	for _, r := range releasers {
		if rec.Resources().Insert(resource.KindOpaque, r) == 0 {
			t.Fatal("Insert failed")
		}
	}
	f.reg.MarkStale(id)
	if !f.sched.Enqueue(id) {
		t.Fatal("Enqueue failed")
	}
	return id
}

func TestSweep_ReleasesAllHandlesOnce(t *testing.T) {
	f := newFixture(1)
	rs := []*countingReleaser{{}, {}, {}}
	id := f.eligible(t, rs[0], rs[1], rs[2])

	report := f.exec.Run(context.Background())

	if len(report.Swept) != 1 || report.Swept[0] != id {
		t.Fatalf("Expected %v swept, got %+v", id, report)
	}
	if report.Released != 3 {
		t.Fatalf("Expected 3 released, got %d", report.Released)
	}
	for i, r := range rs {
		if r.count.Load() != 1 {
			t.Fatalf("releaser %d called %d times", i, r.count.Load())
		}
	}
	if f.reg.Lookup(id) != nil || !f.reg.IsSwept(id) {
		t.Fatal("swept loader should be removed and tombstoned")
	}

	// A second pass has nothing to do and releases nothing again.
	if again := f.exec.Run(context.Background()); !again.Empty() {
		t.Fatalf("second pass should be empty, got %+v", again)
	}
	for i, r := range rs {
		if r.count.Load() != 1 {
			t.Fatalf("releaser %d called %d times after second pass", i, r.count.Load())
		}
	}
}

func TestSweep_PartialFailureRequeues(t *testing.T) {
	f := newFixture(1)
	good := &countingReleaser{}
	bad := &countingReleaser{err: stderrors.New("device busy")}
	bad.fails.Store(1)
	tail := &countingReleaser{}
	id := f.eligible(t, good, bad, tail)

	report := f.exec.Run(context.Background())

	if len(report.Requeued) != 1 || report.Requeued[0] != id {
		t.Fatalf("Expected loader requeued, got %+v", report)
	}
	if good.count.Load() != 1 || tail.count.Load() != 1 {
		t.Fatal("failure of one handle must not stop the others")
	}
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0], errors.ErrHandleReleaseFailure) {
		t.Fatalf("Expected one HandleReleaseFailure, got %v", report.Failures)
	}
	if report.Err() == nil {
		t.Fatal("Report.Err should carry the failure")
	}

	snap, ok := f.reg.Snapshot(id)
	if !ok || snap.State != incinerator.PendingSweep || snap.Handles != 1 {
		t.Fatalf("loader should stay PendingSweep with one handle: %+v", snap)
	}
	if !f.sched.Queued(id) {
		t.Fatal("loader should be back on the queue")
	}

	report = f.exec.Run(context.Background())
	if len(report.Swept) != 1 {
		t.Fatalf("retry pass should sweep the loader, got %+v", report)
	}
	if good.count.Load() != 1 || bad.count.Load() != 1 || tail.count.Load() != 1 {
		t.Fatal("each handle must be released exactly once across passes")
	}
	if got := testutil.ToFloat64(f.m.HandleReleaseFailures.WithLabelValues("opaque")); got != 1 {
		t.Fatalf("release failures metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.m.HandlesReleased.WithLabelValues("opaque")); got != 3 {
		t.Fatalf("released metric = %v, want 3", got)
	}
}

func TestSweep_SkipsIneligible(t *testing.T) {
	f := newFixture(1)

	stale := incinerator.NewIdentity()
	f.reg.MarkStalePending(stale, 1)

	tests := []struct {
		name string
		id   incinerator.Identity
	}{
		{"unknown", incinerator.NewIdentity()},
		{"marked stale", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := f.exec.Sweep(context.Background(), tt.id); res.Outcome != Skipped {
				t.Fatalf("Expected Skipped, got %v", res.Outcome)
			}
		})
	}
	if snap, _ := f.reg.Snapshot(stale); snap.State != incinerator.MarkedStale {
		t.Fatalf("skipped loader changed state: %+v", snap)
	}
}

func TestSweep_NoOverlap(t *testing.T) {
	f := newFixture(1)
	r := &countingReleaser{}
	id := f.eligible(t, r)

	var wg sync.WaitGroup
	var swept atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.exec.Sweep(context.Background(), id).Outcome == Swept {
				swept.Add(1)
			}
		}()
	}
	wg.Wait()

	if swept.Load() != 1 {
		t.Fatalf("Expected exactly one sweep to win, got %d", swept.Load())
	}
	if r.count.Load() != 1 {
		t.Fatalf("Expected 1 release, got %d", r.count.Load())
	}
}

func TestRun_FIFOOrderAndPool(t *testing.T) {
	f := newFixture(3)
	var want []incinerator.Identity
	for i := 0; i < 20; i++ {
		want = append(want, f.eligible(t, &countingReleaser{}, &countingReleaser{}))
	}

	report := f.exec.Run(context.Background())

	if len(report.Swept) != len(want) {
		t.Fatalf("Expected %d swept, got %d", len(want), len(report.Swept))
	}
	for i := range want {
		if report.Swept[i] != want[i] {
			t.Fatalf("position %d: got %v, want %v", i, report.Swept[i], want[i])
		}
	}
	if report.Released != 40 {
		t.Fatalf("Expected 40 released, got %d", report.Released)
	}
	if f.sched.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", f.sched.Len())
	}
	if got := testutil.ToFloat64(f.m.QueueDepth); got != 0 {
		t.Fatalf("queue depth gauge = %v, want 0", got)
	}
}

func TestRun_Empty(t *testing.T) {
	f := newFixture(0)
	if f.exec.Workers() != DefaultWorkers {
		t.Fatalf("Expected default workers, got %d", f.exec.Workers())
	}
	report := f.exec.Run(context.Background())
	if !report.Empty() || report.Err() != nil {
		t.Fatalf("empty run should produce an empty report, got %+v", report)
	}
}

func TestRun_CanceledContextRequeues(t *testing.T) {
	f := newFixture(1)
	r := &countingReleaser{}
	id := f.eligible(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := f.exec.Run(ctx)

	if len(report.Requeued) != 1 || report.Requeued[0] != id {
		t.Fatalf("interrupted sweep should requeue, got %+v", report)
	}
	if r.count.Load() != 0 {
		t.Fatal("no handle should be released after cancellation")
	}

	report = f.exec.Run(context.Background())
	if len(report.Swept) != 1 {
		t.Fatalf("next pass should finish the sweep, got %+v", report)
	}
}

func TestSweep_ClearsMarkersAndClosesTable(t *testing.T) {
	f := newFixture(1)
	id := incinerator.NewIdentity()
	f.reg.MarkStalePending(id, 1)
	rec := f.reg.Lookup(id)

	rec.Lock()
	rec.ClaimObjectLocked(1)
	rec.AdjustPendingLocked(-1)
	rec.Unlock()
	f.sched.Enqueue(id)

	if res := f.exec.Sweep(context.Background(), id); res.Outcome != Swept {
		t.Fatalf("Expected Swept, got %v", res.Outcome)
	}
	if rec.State() != incinerator.Swept {
		t.Fatalf("record state = %v", rec.State())
	}
	if rec.Resources().Insert(resource.KindOpaque, &countingReleaser{}) != 0 {
		t.Fatal("swept loader's table should refuse new handles")
	}

	rec.Lock()
	defer rec.Unlock()
	if !rec.ClaimObjectLocked(1) {
		t.Fatal("processed markers should be cleared at sweep")
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{Skipped, "skipped"},
		{Swept, "swept"},
		{Requeued, "requeued"},
		{Outcome(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.o, got, tt.want)
		}
	}
}
