// Package incinerator reclaims native resources owned by dead class loaders.
//
// A managed runtime reports two kinds of events: a class loader became
// unreachable, and an object finished finalization. The engine tracks which
// loaders are stale, correlates finalizations with them, and once a loader has
// no outstanding finalizations left it releases every native resource the
// loader owns (class metadata, generated code, interned constants).
//
// # Architecture Overview
//
//	incinerator/         Root package with identity types shared by all components
//	├── registry/        Liveness registry: loader identity -> record
//	├── correlator/      Maps finalized objects to their loader, counts down pending refs
//	├── scheduler/       FIFO sweep queue ordered by eligibility
//	├── sweep/           Releases handles of eligible loaders on a bounded worker pool
//	├── resource/        Per-loader resource handle table
//	├── engine/          Composition root and background maintenance thread
//	├── runtime/         Boundary hook called by the managed runtime
//	├── native/          wazero-backed capability probe and compiled-code handles
//	├── metrics/         Prometheus collectors
//	├── config/          File/env configuration and logger construction
//	├── errors/          Structured error types
//	├── internal/
//	│   └── scenario/    Scripted loader lifecycles replayed against an engine
//	└── cmd/
//	    └── incinerator/ CLI: simulate, monitor, config, version
//
// # Quick Start
//
//	eng := engine.New(nil)
//	hook := runtime.New(eng, nil)
//
//	loader := incinerator.NewIdentity()
//	eng.DefineClass(classID, loader)
//	eng.Attach(loader, resource.KindGeneratedCode, code)
//
//	// the runtime decides the loader is unreachable, 2 finalizers outstanding
//	hook.MarkClassLoaderStale(ref)
//	hook.NotifyObjectFinalized(obj1)
//	hook.NotifyObjectFinalized(obj2)
//
//	hook.Run() // releases class metadata and generated code
//
// # Thread Safety
//
// All entry points are safe for concurrent use. Mutations of one loader are
// serialized under that loader's lock; different loaders proceed in parallel.
// Registry snapshots never block.
//
// # Failure Model
//
// Nothing the engine does is allowed to destabilize the host runtime. Errors
// are logged and counted, never returned across the runtime hook.
package incinerator
