// Package engine composes the reclamation pipeline.
//
// An Engine owns one registry, scheduler, correlator and sweep executor and
// exposes the operations a managed runtime needs:
//
//	MarkClassLoaderStale  - loader became unreachable
//	NotifyObjectFinalized - an object finished finalization
//	Run                   - sweep everything that is eligible now
//
// plus host-side helpers to attach native resources (Attach, DefineClass)
// and to inspect state (Snapshot, QueueLen).
//
// # Background maintenance
//
// Start launches a maintenance goroutine. Trigger requests a pass; the pass
// runs after Config.TriggerDelay, and triggers that arrive while a pass is
// already requested are coalesced into it. Loaders that become eligible
// trigger a pass automatically while maintenance is running. Stop cancels
// the goroutine and waits for it.
//
// Sweeping never happens on the notification path: NotifyObjectFinalized
// only does bounded bookkeeping and at most queues a loader.
package engine
