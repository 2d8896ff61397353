// Package errors provides structured error types for the reclamation engine.
//
// Errors are categorized by Phase (which step of reclamation failed) and Kind
// (error category). The Error type carries the loader identity and resource
// handle involved, plus an optional cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseSweep, errors.KindHandleReleaseFailure).
//		Loader(id).
//		Handle(7).
//		Cause(closeErr).
//		Detail("close compiled module").
//		Build()
//
// Or use the convenience constructors, one per failure the engine knows:
//
//	errors.UnknownLoader(errors.PhaseCorrelate, id)
//	errors.NegativePendingCount(id, current, delta)
//
// None of these errors ever reach the managed runtime; they are logged and
// counted at the boundary. All errors support errors.Is/As.
package errors
