package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/resource"
)

func TestRegistry_MarkStaleOnlyFirstTransitions(t *testing.T) {
	r := New(Options{})
	id := incinerator.NewIdentity()

	if !r.MarkStale(id) {
		t.Fatal("first MarkStale should transition")
	}
	for i := 0; i < 5; i++ {
		if r.MarkStale(id) {
			t.Fatalf("MarkStale #%d should not transition again", i+2)
		}
	}
	if r.Len() != 1 {
		t.Fatalf("Expected 1 record, got %d", r.Len())
	}

	snap, ok := r.Snapshot(id)
	if !ok {
		t.Fatal("Snapshot failed")
	}
	if snap.State != incinerator.MarkedStale {
		t.Fatalf("Expected MarkedStale, got %v", snap.State)
	}
}

func TestRegistry_MarkStaleConcurrent(t *testing.T) {
	r := New(Options{})
	id := incinerator.NewIdentity()

	var transitions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.MarkStale(id) {
				transitions.Add(1)
			}
		}()
	}
	wg.Wait()

	if transitions.Load() != 1 {
		t.Fatalf("Expected exactly 1 transition, got %d", transitions.Load())
	}
	if r.Len() != 1 {
		t.Fatalf("Expected 1 record, got %d", r.Len())
	}
}

func TestRegistry_MarkStaleNullIdentity(t *testing.T) {
	r := New(Options{})

	if r.MarkStale("") {
		t.Fatal("MarkStale on the null identity should return false")
	}
	if r.Len() != 0 {
		t.Fatal("MarkStale on the null identity must not create a record")
	}
}

func TestRegistry_MarkStaleFromLive(t *testing.T) {
	r := New(Options{})
	id := incinerator.NewIdentity()

	rec, err := r.Track(id)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if rec.State() != incinerator.Live {
		t.Fatalf("Expected Live, got %v", rec.State())
	}

	if !r.MarkStalePending(id, 3) {
		t.Fatal("MarkStalePending should transition a Live record")
	}
	if rec.Pending() != 3 {
		t.Fatalf("Expected pending 3, got %d", rec.Pending())
	}
	if rec.State() != incinerator.MarkedStale {
		t.Fatalf("Expected MarkedStale, got %v", rec.State())
	}
}

func TestRegistry_MarkStaleNegativePending(t *testing.T) {
	r := New(Options{})
	id := incinerator.NewIdentity()

	if r.MarkStalePending(id, -1) {
		t.Fatal("negative pending count should be refused")
	}
	if r.Lookup(id) != nil {
		t.Fatal("refused mark must not create a record")
	}
}

func TestRegistry_RecordPendingReference(t *testing.T) {
	r := New(Options{})
	id := incinerator.NewIdentity()
	r.MarkStalePending(id, 2)

	n, err := r.RecordPendingReference(id, -1)
	if err != nil || n != 1 {
		t.Fatalf("got (%d, %v), want (1, nil)", n, err)
	}
	n, err = r.RecordPendingReference(id, -1)
	if err != nil || n != 0 {
		t.Fatalf("got (%d, %v), want (0, nil)", n, err)
	}

	n, err = r.RecordPendingReference(id, -1)
	if !errors.Is(err, errors.ErrNegativePendingCount) {
		t.Fatalf("Expected NegativePendingCount, got %v", err)
	}
	if n != 0 {
		t.Fatalf("count must stay at 0, got %d", n)
	}
	if snap, _ := r.Snapshot(id); snap.Pending != 0 {
		t.Fatalf("count must not go negative, got %d", snap.Pending)
	}
}

func TestRegistry_RecordPendingReferenceUnknown(t *testing.T) {
	r := New(Options{})

	_, err := r.RecordPendingReference(incinerator.NewIdentity(), -1)
	if !errors.Is(err, errors.ErrUnknownLoader) {
		t.Fatalf("Expected UnknownLoader for untracked identity, got %v", err)
	}

	live := incinerator.NewIdentity()
	r.Track(live)
	_, err = r.RecordPendingReference(live, -1)
	if !errors.Is(err, errors.ErrUnknownLoader) {
		t.Fatalf("Expected UnknownLoader for a Live loader, got %v", err)
	}
}

func TestRegistry_RemoveTombstones(t *testing.T) {
	r := New(Options{})
	id := incinerator.NewIdentity()
	r.MarkStale(id)

	rec := r.Lookup(id)
	rec.Lock()
	rec.TransitionLocked(incinerator.MarkedStale, incinerator.PendingSweep)
	rec.TransitionLocked(incinerator.PendingSweep, incinerator.Swept)
	rec.Unlock()
	r.Remove(id)

	if r.Lookup(id) != nil {
		t.Fatal("record should be gone after Remove")
	}
	if !r.IsSwept(id) {
		t.Fatal("identity should be tombstoned")
	}
	snap, ok := r.Snapshot(id)
	if !ok || snap.State != incinerator.Swept {
		t.Fatalf("Snapshot of swept identity = (%+v, %v)", snap, ok)
	}

	if r.MarkStale(id) {
		t.Fatal("MarkStale on a swept identity must be a no-op")
	}
	if r.Len() != 0 {
		t.Fatal("MarkStale on a swept identity must not recreate the record")
	}
	if _, err := r.Track(id); !errors.Is(err, errors.ErrIdentityReused) {
		t.Fatalf("Track of swept identity should fail with IdentityReused, got %v", err)
	}
}

func TestRegistry_TrackNull(t *testing.T) {
	r := New(Options{})
	if _, err := r.Track(""); !errors.Is(err, errors.ErrInvalidIdentity) {
		t.Fatalf("Expected InvalidIdentity, got %v", err)
	}
}

func TestRegistry_SnapshotUnknown(t *testing.T) {
	r := New(Options{})
	if _, ok := r.Snapshot(incinerator.NewIdentity()); ok {
		t.Fatal("Snapshot of unknown identity should fail")
	}
}

func TestRegistry_ObserverReachesTables(t *testing.T) {
	var attached atomic.Int32
	r := New(Options{
		Observer: resource.ObserverFunc(func(e resource.Event) {
			if e.Type == resource.EventAttached {
				attached.Add(1)
			}
		}),
	})

	rec, _ := r.Track(incinerator.NewIdentity())
	rec.Resources().Insert(resource.KindOpaque, resource.ReleaseFunc(func(context.Context) error { return nil }))

	if attached.Load() != 1 {
		t.Fatalf("Expected observer to see 1 attach, got %d", attached.Load())
	}
}

func TestRegistry_Each(t *testing.T) {
	r := New(Options{})
	for i := 0; i < 5; i++ {
		r.MarkStale(incinerator.NewIdentity())
	}

	count := 0
	r.Each(func(*Record) bool {
		count++
		return true
	})
	if count != 5 {
		t.Fatalf("Expected 5 records, got %d", count)
	}
}

func TestRecord_ClaimObject(t *testing.T) {
	r := New(Options{})
	id := incinerator.NewIdentity()
	r.MarkStalePending(id, 1)
	rec := r.Lookup(id)

	rec.Lock()
	defer rec.Unlock()

	if !rec.ClaimObjectLocked(7) {
		t.Fatal("first claim should succeed")
	}
	if rec.ClaimObjectLocked(7) {
		t.Fatal("duplicate claim should fail")
	}
	rec.ResetProcessedLocked()
	if !rec.ClaimObjectLocked(7) {
		t.Fatal("claim after reset should succeed")
	}
}

func TestRecord_AdjustPendingInPendingSweep(t *testing.T) {
	r := New(Options{})
	id := incinerator.NewIdentity()
	r.MarkStale(id)
	rec := r.Lookup(id)

	rec.Lock()
	rec.TransitionLocked(incinerator.MarkedStale, incinerator.PendingSweep)
	_, err := rec.AdjustPendingLocked(1)
	rec.Unlock()

	if !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("raising the count of a PendingSweep loader should fail, got %v", err)
	}
}

// Readers run against Track, MarkStale and Remove. Run with -race.
func TestRegistry_ReadsDuringWrites(t *testing.T) {
	r := New(Options{})
	const n = 200

	ids := make([]incinerator.Identity, n)
	for i := range ids {
		ids[i] = incinerator.NewIdentity()
	}

	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(2)
		go func(id incinerator.Identity) {
			defer wg.Done()
			if _, err := r.Track(id); err != nil {
				t.Errorf("Track failed: %v", err)
				return
			}
			r.MarkStale(id)
			rec := r.Lookup(id)
			rec.Lock()
			rec.TransitionLocked(incinerator.MarkedStale, incinerator.PendingSweep)
			rec.TransitionLocked(incinerator.PendingSweep, incinerator.Swept)
			rec.Unlock()
			r.Remove(id)
		}(ids[i])
		go func(id incinerator.Identity) {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				r.Lookup(id)
				r.Snapshot(id)
				r.Len()
				r.Each(func(*Record) bool { return true })
			}
		}(ids[i])
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("Expected no records, got %d", r.Len())
	}
	if r.SweptLen() != n {
		t.Fatalf("Expected %d tombstones, got %d", n, r.SweptLen())
	}
	for _, id := range ids {
		if !r.IsSwept(id) {
			t.Fatalf("%v should be tombstoned", id)
		}
	}
}

func TestRegistry_EachInIdentityOrder(t *testing.T) {
	r := New(Options{})
	for _, id := range []incinerator.Identity{"c", "a", "b"} {
		r.Track(id)
	}

	var got []incinerator.Identity
	r.Each(func(rec *Record) bool {
		got = append(got, rec.ID())
		return true
	})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("Expected identity order, got %v", got)
	}
}
