// Package resource tracks the native resources a class loader owns.
//
// Every loader record carries one Table. The runtime attaches resources to it
// while the loader is alive (class metadata, generated code, interned
// constants) and the sweep executor releases them once the loader is dead.
//
// # Handle Table
//
// The Table maps integer handles to Releasers:
//
//	table := resource.NewTable(nil)
//
//	// Attach a resource, get a handle
//	handle := table.Insert(resource.KindGeneratedCode, code)
//
//	// Release it; a second release of the same handle is a no-op
//	err := table.Release(ctx, handle)
//
// Handles are never reused within a table, so a handle names exactly one
// resource for the table's lifetime. Handle 0 is reserved and always invalid.
//
// # Release Semantics
//
// A handle leaves the table only after its Releaser returned nil. A failed
// release keeps the handle in place so a later sweep can retry it.
//
// # Observers
//
// An Observer passed to NewTable sees every attach, release and failed
// release:
//
//	table := resource.NewTable(resource.ObserverFunc(func(e resource.Event) {
//	    if e.Type == resource.EventReleaseFailed {
//	        log.Printf("handle %d: %v", e.Handle, e.Err)
//	    }
//	}))
package resource
