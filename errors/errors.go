package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which step of reclamation produced the error
type Phase string

const (
	PhaseProbe     Phase = "probe"     // engine availability check
	PhaseMark      Phase = "mark"      // staleness transition
	PhaseCorrelate Phase = "correlate" // finalization correlation
	PhaseSchedule  Phase = "schedule"  // sweep queue
	PhaseSweep     Phase = "sweep"     // handle release
	PhaseAttach    Phase = "attach"    // resource and class registration
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindEngineUnavailable    Kind = "engine_unavailable"
	KindUnknownLoader        Kind = "unknown_loader"
	KindHandleReleaseFailure Kind = "handle_release_failure"
	KindNegativePendingCount Kind = "negative_pending_count"
	KindInvalidIdentity      Kind = "invalid_identity"
	KindIdentityReused       Kind = "identity_reused"
	KindInvalidState         Kind = "invalid_state"
	KindInvalidInput         Kind = "invalid_input"
)

// Error is the structured error type used throughout the engine
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Loader string
	Detail string
	Handle uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Loader != "" {
		b.WriteString(" loader=")
		b.WriteString(e.Loader)
	}
	if e.Handle != 0 {
		fmt.Fprintf(&b, " handle=%d", e.Handle)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Loader sets the loader identity
func (b *Builder) Loader(id fmt.Stringer) *Builder {
	b.err.Loader = id.String()
	return b
}

// Handle sets the resource handle
func (b *Builder) Handle(h uint32) *Builder {
	b.err.Handle = h
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Kind-only sentinels for errors.Is checks that don't care about the phase.
var (
	ErrEngineUnavailable    = &Error{Kind: KindEngineUnavailable}
	ErrUnknownLoader        = &Error{Kind: KindUnknownLoader}
	ErrHandleReleaseFailure = &Error{Kind: KindHandleReleaseFailure}
	ErrNegativePendingCount = &Error{Kind: KindNegativePendingCount}
	ErrInvalidIdentity      = &Error{Kind: KindInvalidIdentity}
	ErrIdentityReused       = &Error{Kind: KindIdentityReused}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
)

// EngineUnavailable reports that the native reclamation backend is absent
func EngineUnavailable(cause error) *Error {
	return &Error{
		Phase:  PhaseProbe,
		Kind:   KindEngineUnavailable,
		Detail: "reclamation backend not available",
		Cause:  cause,
	}
}

// UnknownLoader reports a reference to an identity that was never marked stale
func UnknownLoader(phase Phase, id fmt.Stringer) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownLoader,
		Loader: id.String(),
		Detail: "loader was never marked stale",
	}
}

// HandleReleaseFailure reports a single handle that could not be released
func HandleReleaseFailure(id fmt.Stringer, handle uint32, kind string, cause error) *Error {
	return &Error{
		Phase:  PhaseSweep,
		Kind:   KindHandleReleaseFailure,
		Loader: id.String(),
		Handle: handle,
		Detail: fmt.Sprintf("release %s", kind),
		Cause:  cause,
	}
}

// NegativePendingCount reports a decrement that would drop the pending count below zero
func NegativePendingCount(id fmt.Stringer, current, delta int64) *Error {
	return &Error{
		Phase:  PhaseCorrelate,
		Kind:   KindNegativePendingCount,
		Loader: id.String(),
		Detail: fmt.Sprintf("pending count %d with delta %d would go negative", current, delta),
	}
}

// InvalidIdentity reports a null or empty loader identity
func InvalidIdentity(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidIdentity,
		Detail: "null loader identity",
	}
}

// IdentityReused reports an attempt to track a loader identity that was already swept
func IdentityReused(phase Phase, id fmt.Stringer) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIdentityReused,
		Loader: id.String(),
		Detail: "identity already swept",
	}
}

// InvalidState reports an operation not allowed in the loader's current state
func InvalidState(phase Phase, id fmt.Stringer, state fmt.Stringer) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Loader: id.String(),
		Detail: fmt.Sprintf("loader is %s", state),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
