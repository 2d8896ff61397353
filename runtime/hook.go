package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/native"
	"github.com/wippyai/incinerator/sweep"
)

// Core is the reclamation engine as seen by the hook.
type Core interface {
	MarkClassLoaderStale(ref incinerator.LoaderRef) bool
	NotifyObjectFinalized(obj incinerator.ObjectRef)
	IsObjectStale(obj incinerator.ObjectRef) bool
	Run(ctx context.Context) sweep.Report
}

// Probe checks an extra availability condition. nil means none.
type Probe func(ctx context.Context) error

// NativeProbe checks that the native backend works on this platform.
var NativeProbe Probe = native.Probe

// Hook forwards runtime events to a Core. Safe for concurrent use.
type Hook struct {
	core      Core
	err       error
	log       *zap.Logger
	available bool
}

// New creates a hook over core and probes it once.
func New(core Core, probe Probe) *Hook {
	h := &Hook{
		core: core,
		log:  Logger().Named("runtime"),
	}
	h.err = h.probe(probe)
	h.available = h.err == nil

	if h.available {
		h.log.Info("engine available")
	} else {
		h.log.Warn("engine unavailable, hook disabled", zap.Error(h.err))
	}
	return h
}

func (h *Hook) probe(extra Probe) (err error) {
	if h.core == nil {
		return errors.EngineUnavailable(nil)
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.EngineUnavailable(fmt.Errorf("probe panicked: %v", p))
		}
	}()

	h.core.MarkClassLoaderStale(nil)
	if extra != nil {
		if perr := extra(context.Background()); perr != nil {
			if errors.Is(perr, errors.ErrEngineUnavailable) {
				return perr
			}
			return errors.EngineUnavailable(perr)
		}
	}
	return nil
}

// Available reports whether the probe succeeded.
func (h *Hook) Available() bool {
	return h.available
}

// Err returns why the engine is unavailable, or nil.
func (h *Hook) Err() error {
	return h.err
}

// MarkClassLoaderStale reports an unreachable loader. It returns false when
// the engine is unavailable or the call failed.
func (h *Hook) MarkClassLoaderStale(ref incinerator.LoaderRef) (marked bool) {
	if !h.available {
		return false
	}
	defer h.contain("mark")
	return h.core.MarkClassLoaderStale(ref)
}

// NotifyObjectFinalized reports a finalized object.
func (h *Hook) NotifyObjectFinalized(obj incinerator.ObjectRef) {
	if !h.available {
		return
	}
	defer h.contain("finalize")
	h.core.NotifyObjectFinalized(obj)
}

// IsObjectStale reports whether obj belongs to a stale loader. It returns
// false when the engine is unavailable or the call failed.
func (h *Hook) IsObjectStale(obj incinerator.ObjectRef) (stale bool) {
	if !h.available {
		return false
	}
	defer h.contain("stale")
	return h.core.IsObjectStale(obj)
}

// Run sweeps every eligible loader. Failures are logged, never returned.
func (h *Hook) Run() {
	h.Sweep(context.Background())
}

// Sweep is Run with a context, returning the pass report. The report is
// empty when the engine is unavailable or the pass panicked.
func (h *Hook) Sweep(ctx context.Context) (report sweep.Report) {
	if !h.available {
		return sweep.Report{}
	}
	defer h.contain("run")

	report = h.core.Run(ctx)
	if err := report.Err(); err != nil {
		h.log.Warn("run finished with failures",
			zap.Int("swept", len(report.Swept)),
			zap.Int("requeued", len(report.Requeued)),
			zap.Error(err))
	}
	return report
}

func (h *Hook) contain(op string) {
	if p := recover(); p != nil {
		h.log.Error("engine call panicked",
			zap.String("op", op), zap.Any("panic", p))
	}
}

var (
	installed   atomic.Pointer[Hook]
	installOnce sync.Once
)

// Install creates the process-wide hook on first use and returns it. Later
// calls ignore their arguments and return the same hook.
func Install(core Core, probe Probe) *Hook {
	installOnce.Do(func() {
		installed.Store(New(core, probe))
	})
	return installed.Load()
}

// Installed returns the process-wide hook, or nil.
func Installed() *Hook {
	return installed.Load()
}

// EngineAvailable reports whether the process-wide hook is installed and
// its engine passed the probe.
func EngineAvailable() bool {
	h := installed.Load()
	return h != nil && h.Available()
}

// MarkClassLoaderStale forwards to the process-wide hook.
func MarkClassLoaderStale(ref incinerator.LoaderRef) bool {
	if h := installed.Load(); h != nil {
		return h.MarkClassLoaderStale(ref)
	}
	return false
}

// NotifyObjectFinalized forwards to the process-wide hook.
func NotifyObjectFinalized(obj incinerator.ObjectRef) {
	if h := installed.Load(); h != nil {
		h.NotifyObjectFinalized(obj)
	}
}

// IsObjectStale forwards to the process-wide hook.
func IsObjectStale(obj incinerator.ObjectRef) bool {
	if h := installed.Load(); h != nil {
		return h.IsObjectStale(obj)
	}
	return false
}

// Run forwards to the process-wide hook.
func Run() {
	if h := installed.Load(); h != nil {
		h.Run()
	}
}
