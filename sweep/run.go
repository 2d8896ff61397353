package sweep

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/incinerator"
)

// Report summarizes one Run pass. Identities are listed in the order the
// scheduler handed them out.
type Report struct {
	Swept    []incinerator.Identity
	Requeued []incinerator.Identity
	Skipped  []incinerator.Identity
	Failures []error
	Released int
}

// Err combines all failures of the pass, or returns nil.
func (r Report) Err() error {
	return multierr.Combine(r.Failures...)
}

// Empty reports whether the pass had nothing to do.
func (r Report) Empty() bool {
	return len(r.Swept) == 0 && len(r.Requeued) == 0 && len(r.Skipped) == 0
}

func (r *Report) add(res Result) {
	switch res.Outcome {
	case Swept:
		r.Swept = append(r.Swept, res.ID)
	case Requeued:
		r.Requeued = append(r.Requeued, res.ID)
	default:
		r.Skipped = append(r.Skipped, res.ID)
	}
	r.Failures = append(r.Failures, res.Failures...)
	r.Released += res.Released
}

// Run drains the scheduler and sweeps every eligible loader. At most
// Workers loaders are swept at once; they are started in queue order.
// Loaders that become eligible while Run is in progress wait for the next
// pass. Run always returns normally.
func (e *Executor) Run(ctx context.Context) Report {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make(map[int]Result)
		n       int
	)
	g.SetLimit(e.workers)

	for id := range e.scheduler.Drain() {
		idx := n
		n++
		g.Go(func() error {
			res := e.safeSweep(ctx, id)
			mu.Lock()
			results[idx] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var report Report
	for i := 0; i < n; i++ {
		report.add(results[i])
	}

	if !report.Empty() {
		e.log.Info("sweep pass finished",
			zap.Int("swept", len(report.Swept)),
			zap.Int("requeued", len(report.Requeued)),
			zap.Int("skipped", len(report.Skipped)),
			zap.Int("released", report.Released),
			zap.Int("failures", len(report.Failures)))
	}
	return report
}
