package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/engine"
	"github.com/wippyai/incinerator/native"
	"github.com/wippyai/incinerator/resource"
	"github.com/wippyai/incinerator/runtime"
	"github.com/wippyai/incinerator/sweep"
)

// Result is the outcome of one replayed event.
type Result struct {
	Err    error
	Report *sweep.Report
	Event  Event
	Index  int
	Marked bool
}

// LoaderView is the displayed state of one scenario loader.
type LoaderView struct {
	Name    string
	ID      incinerator.Identity
	State   incinerator.State
	Pending int64
	Handles int
	Queued  bool
}

// Player replays a scenario one event at a time. Runtime events (mark,
// finalize, run) go through a runtime hook, so engine faults are contained
// the same way they are for a managed runtime.
// Not safe for concurrent use.
type Player struct {
	eng      *engine.Engine
	hook     *runtime.Hook
	scenario *Scenario
	ids      map[string]incinerator.Identity
	next     int
}

// NewPlayer sets up the scenario's loaders on eng: classes are defined and
// resources attached. Modules are compiled through code, which may be nil
// if the scenario declares none. Module paths are relative to baseDir.
//
// Runtime events are delivered through hook. A nil hook means a hook over
// eng with no extra probe.
func NewPlayer(ctx context.Context, eng *engine.Engine, hook *runtime.Hook, code *native.CodeCache, s *Scenario, baseDir string) (*Player, error) {
	if hook == nil {
		hook = runtime.New(eng, nil)
	}
	p := &Player{
		eng:      eng,
		hook:     hook,
		scenario: s,
		ids:      make(map[string]incinerator.Identity, len(s.Loaders)),
	}

	for _, l := range s.Loaders {
		id := incinerator.NewIdentity()
		p.ids[l.Name] = id

		for _, c := range l.Classes {
			if err := eng.DefineClass(incinerator.ClassID(c), id); err != nil {
				return nil, fmt.Errorf("loader %s: %w", l.Name, err)
			}
		}
		for i, r := range l.Resources {
			if err := p.attach(ctx, code, id, r, baseDir); err != nil {
				return nil, fmt.Errorf("loader %s resource %d: %w", l.Name, i, err)
			}
		}
	}
	return p, nil
}

func (p *Player) attach(ctx context.Context, code *native.CodeCache, id incinerator.Identity, r ResourceSpec, baseDir string) error {
	kind := resource.ParseKind(r.Kind)

	if r.Module != "" {
		if code == nil {
			return fmt.Errorf("module %s: no code cache", r.Module)
		}
		path := r.Module
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		wasm, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if r.Fail == 0 {
			_, err = code.Compile(ctx, id, wasm)
			return err
		}
		rel, err := code.CompileReleaser(ctx, wasm)
		if err != nil {
			return err
		}
		if _, err := p.eng.Attach(id, kind, newFlaky(rel, r.Fail)); err != nil {
			_ = rel.Release(ctx)
			return err
		}
		return nil
	}

	var rel resource.Releaser
	switch {
	case r.Data != "":
		rel = native.NewBlobFrom([]byte(r.Data))
	default:
		rel = native.NewBlob(r.Size)
	}
	if r.Fail > 0 {
		rel = newFlaky(rel, r.Fail)
	}
	_, err := p.eng.Attach(id, kind, rel)
	return err
}

// Step replays the next event. It returns false once every event ran.
func (p *Player) Step(ctx context.Context) (Result, bool) {
	if p.Done() {
		return Result{}, false
	}
	idx := p.next
	e := p.scenario.Events[idx]
	p.next++

	res := Result{Event: e, Index: idx}
	switch e.Op {
	case OpMark:
		res.Marked = p.hook.MarkClassLoaderStale(incinerator.Loader{ID: p.ids[e.Loader], Pending: e.Pending})
	case OpFinalize:
		p.hook.NotifyObjectFinalized(incinerator.Object{
			ID:    incinerator.ObjectID(e.Object),
			Class: incinerator.ClassID(e.Class),
		})
	case OpRun:
		report := p.hook.Sweep(ctx)
		res.Report = &report
	case OpUnload:
		res.Marked = p.eng.ClassLoaderUnloading(p.ids[e.Loader])
	case OpExpect:
		want, _ := incinerator.ParseState(e.State)
		snap, _ := p.eng.Snapshot(p.ids[e.Loader])
		if snap.State != want {
			res.Err = fmt.Errorf("loader %s: state %s, expected %s", e.Loader, snap.State, want)
		}
	}
	return res, true
}

// Play replays every remaining event and returns the results.
func (p *Player) Play(ctx context.Context) []Result {
	var out []Result
	for {
		res, ok := p.Step(ctx)
		if !ok {
			return out
		}
		out = append(out, res)
	}
}

// Done reports whether every event ran.
func (p *Player) Done() bool {
	return p.next >= len(p.scenario.Events)
}

// Position returns the index of the next event and the event count.
func (p *Player) Position() (int, int) {
	return p.next, len(p.scenario.Events)
}

// Peek returns the next event without running it.
func (p *Player) Peek() (Event, bool) {
	if p.Done() {
		return Event{}, false
	}
	return p.scenario.Events[p.next], true
}

// ID returns the identity assigned to a scenario loader.
func (p *Player) ID(name string) incinerator.Identity {
	return p.ids[name]
}

// Loaders returns the current state of every scenario loader in
// declaration order.
func (p *Player) Loaders() []LoaderView {
	out := make([]LoaderView, 0, len(p.scenario.Loaders))
	for _, l := range p.scenario.Loaders {
		id := p.ids[l.Name]
		v := LoaderView{Name: l.Name, ID: id}
		if snap, ok := p.eng.Snapshot(id); ok {
			v.State = snap.State
			v.Pending = snap.Pending
			v.Handles = snap.Handles
		}
		v.Queued = p.eng.Queued(id)
		out = append(out, v)
	}
	return out
}

// flaky fails the first n releases before delegating.
type flaky struct {
	inner resource.Releaser
	fails atomic.Int32
}

func newFlaky(inner resource.Releaser, n int) *flaky {
	f := &flaky{inner: inner}
	f.fails.Store(int32(n))
	return f
}

func (f *flaky) Release(ctx context.Context) error {
	if f.fails.Add(-1) >= 0 {
		return fmt.Errorf("simulated release failure")
	}
	return f.inner.Release(ctx)
}
