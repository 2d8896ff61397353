package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/incinerator/errors"
)

type maintenanceState int

const (
	stopped maintenanceState = iota
	running
	stopPending
)

func (s maintenanceState) String() string {
	switch s {
	case stopped:
		return "stopped"
	case running:
		return "running"
	case stopPending:
		return "stop-pending"
	default:
		return "unknown"
	}
}

// Start launches background maintenance. It fails if maintenance is
// already running or still stopping.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stopped {
		return errors.New(errors.PhaseSchedule, errors.KindInvalidState).
			Detail("maintenance is %s", e.state).
			Build()
	}

	e.requested.Store(false)
	select {
	case <-e.trigger:
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = running

	go e.loop(ctx, e.done)
	e.log.Info("maintenance started", zap.Duration("delay", e.triggerDelay))

	// Loaders that became eligible before Start still need a pass.
	if e.scheduler.Len() > 0 {
		e.requestLocked()
	}
	return nil
}

// Stop stops background maintenance and waits for an in-flight pass to
// finish. Stopping an engine that is not running is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != running {
		e.mu.Unlock()
		return
	}
	e.state = stopPending
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.mu.Lock()
	e.state = stopped
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()
	e.log.Info("maintenance stopped")
}

// Running reports whether background maintenance is running.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == running
}

// Trigger requests a background pass. It returns false if maintenance is
// not running or a pass is already requested.
func (e *Engine) Trigger() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != running {
		return false
	}
	return e.requestLocked()
}

func (e *Engine) requestLocked() bool {
	if !e.requested.CompareAndSwap(false, true) {
		return false
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
	return true
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
		}

		timer.Reset(e.triggerDelay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Triggers from here on ask for another pass.
		e.requested.Store(false)
		report := e.Run(ctx)
		if err := report.Err(); err != nil {
			e.log.Warn("background pass had failures", zap.Error(err))
		}
	}
}
