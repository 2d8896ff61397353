package resource

import (
	"context"
)

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Kind classifies what a resource is.
type Kind uint8

const (
	KindOpaque Kind = iota
	KindClassMetadata
	KindGeneratedCode
	KindInternedConstants
	KindMetadataTable
)

func (k Kind) String() string {
	switch k {
	case KindClassMetadata:
		return "class-metadata"
	case KindGeneratedCode:
		return "generated-code"
	case KindInternedConstants:
		return "interned-constants"
	case KindMetadataTable:
		return "metadata-table"
	default:
		return "opaque"
	}
}

// ParseKind maps a kind name back to its Kind. Unknown names map to KindOpaque.
func ParseKind(s string) Kind {
	k, _ := LookupKind(s)
	return k
}

// LookupKind is ParseKind that also reports whether s named a kind.
func LookupKind(s string) (Kind, bool) {
	for k := KindOpaque; k <= KindMetadataTable; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return KindOpaque, false
}

// Releaser is implemented by every native resource owned by a loader.
// Release must be safe to call again after it returned an error.
type Releaser interface {
	Release(ctx context.Context) error
}

// ReleaseFunc adapts a plain function to Releaser.
type ReleaseFunc func(ctx context.Context) error

// Release calls f.
func (f ReleaseFunc) Release(ctx context.Context) error {
	return f(ctx)
}

// EventType identifies a resource lifecycle notification.
type EventType uint8

const (
	EventAttached EventType = iota
	EventReleased
	EventReleaseFailed
)

// Event represents a resource lifecycle event.
type Event struct {
	Err    error
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Event)

// OnResourceEvent calls f.
func (f ObserverFunc) OnResourceEvent(e Event) {
	f(e)
}
