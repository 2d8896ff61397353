// Package runtime is the boundary between a managed runtime and the
// reclamation engine.
//
// # Quick Start
//
//	eng := engine.New(nil)
//	hook := runtime.New(eng, runtime.NativeProbe)
//	if !hook.Available() {
//	    // every call below is a silent no-op
//	}
//
//	hook.MarkClassLoaderStale(loaderRef)
//	hook.NotifyObjectFinalized(objectRef)
//	hook.Run()
//
// # Availability
//
// New probes the engine exactly once. The probe calls
// MarkClassLoaderStale(nil) on the core, which must return without
// panicking, then runs the optional backend probe. If either fails the hook
// is unavailable for its whole lifetime and every method does nothing.
//
// # Failure Containment
//
// The managed runtime must never see an engine failure. Every call into the
// core is guarded: a panic is recovered and logged, and the call behaves as
// a no-op.
//
// # Process-wide Hook
//
// Install creates the process-wide hook once; later calls return the same
// hook. The package-level functions EngineAvailable, MarkClassLoaderStale,
// NotifyObjectFinalized and Run forward to it and are no-ops until Install
// has run.
package runtime
