// Package sweep releases the native resources of dead class loaders.
//
// Sweep handles one PendingSweep loader under its record lock, releasing
// every handle in attach order. A handle that fails to release stays in the
// table; the loader remains PendingSweep and goes back on the queue for the
// next pass. Only a loader with no handles left becomes Swept and is removed
// from the registry.
//
// Run drains the scheduler through a bounded worker pool. It never returns
// an error and never panics: what happened is described by the Report.
package sweep
