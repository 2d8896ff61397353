package incinerator

import (
	"github.com/google/uuid"
)

// Identity is a stable token naming a class loader. It is minted once per
// loader and does not depend on where the loader lives in memory.
// The empty Identity is the null sentinel meaning "no owning loader".
type Identity string

// NewIdentity mints a fresh loader identity.
func NewIdentity() Identity {
	return Identity(uuid.NewString())
}

// IsNull reports whether id is the null sentinel.
func (id Identity) IsNull() bool {
	return id == ""
}

func (id Identity) String() string {
	if id == "" {
		return "<null>"
	}
	return string(id)
}

// ObjectID identifies a managed object for the lifetime of its loader.
type ObjectID uint64

// ClassID identifies a class defined by some loader.
type ClassID uint64

// State is the reclamation state of a loader record.
type State int32

const (
	Live State = iota
	MarkedStale
	PendingSweep
	Swept
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case MarkedStale:
		return "marked-stale"
	case PendingSweep:
		return "pending-sweep"
	case Swept:
		return "swept"
	default:
		return "unknown"
	}
}

// ParseState maps a state name back to its State.
func ParseState(name string) (State, bool) {
	for s := Live; s <= Swept; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return Live, false
}

// LoaderRef is what the managed runtime hands over for a class loader.
type LoaderRef interface {
	LoaderID() Identity

	// PendingFinalizers is the number of finalizable objects of this loader
	// still waiting for finalization when the loader is marked stale.
	PendingFinalizers() int
}

// ObjectRef is what the managed runtime hands over for a finalized object.
type ObjectRef interface {
	ObjectID() ObjectID
	ClassID() ClassID
}

// Loader is a plain LoaderRef.
type Loader struct {
	ID      Identity
	Pending int
}

func (l Loader) LoaderID() Identity     { return l.ID }
func (l Loader) PendingFinalizers() int { return l.Pending }

// Object is a plain ObjectRef.
type Object struct {
	ID    ObjectID
	Class ClassID
}

func (o Object) ObjectID() ObjectID { return o.ID }
func (o Object) ClassID() ClassID   { return o.Class }
