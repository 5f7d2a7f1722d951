package session

import (
	"errors"
	"fmt"

	"sharedtable.ai/internal/sim/geom"
)

var (
	ErrNotRunning = errors.New("session: runner is not running")
	ErrBadKind    = errors.New("session: unknown entity kind")
)

// PeerID identifies one participant. Zero means "nobody".
type PeerID int

// EntityID identifies a replicated entity. Zero is never assigned.
type EntityID uint32

func (id EntityID) Valid() bool { return id != 0 }

func (id EntityID) String() string { return fmt.Sprintf("E%d", uint32(id)) }

type Kind uint8

const (
	KindNote Kind = iota + 1
	KindToken
	KindEdge
	KindPanel
	KindTool
)

func (k Kind) String() string {
	switch k {
	case KindNote:
		return "NOTE"
	case KindToken:
		return "TOKEN"
	case KindEdge:
		return "EDGE"
	case KindPanel:
		return "PANEL"
	case KindTool:
		return "TOOL"
	default:
		return fmt.Sprintf("KIND_%d", uint8(k))
	}
}

func (k Kind) valid() bool { return k >= KindNote && k <= KindTool }

// Entity is a copy of a replicated entity's shared state at the time of the
// lookup. Holding one across ticks is fine; trusting it across ticks is not.
type Entity struct {
	ID        EntityID
	Kind      Kind
	Authority PeerID
	Spawner   PeerID
	Transform geom.Transform

	// Content is the note text, token label or tool name.
	Content string
	// Source is the id of the source document a token or panel refers to.
	Source string

	// Edge endpoints.
	Start EntityID
	End   EntityID

	// ActivePanel is the panel a token last opened. It may be stale.
	ActivePanel EntityID
	// Follow is the token a panel hangs off.
	Follow EntityID

	// Locked entities keep their authority while the holder is connected.
	Locked    bool
	SpawnTick uint64
}

type SpawnSpec struct {
	Kind      Kind
	Transform geom.Transform
	// Owner receives initial authority. Zero means the spawning peer.
	Owner   PeerID
	Content string
	Source  string
	Start   EntityID
	End     EntityID
	Follow  EntityID
	Locked  bool
}

type SignalKind uint8

const (
	SignalFlash SignalKind = iota + 1
)

func (k SignalKind) String() string {
	switch k {
	case SignalFlash:
		return "FLASH"
	default:
		return fmt.Sprintf("SIGNAL_%d", uint8(k))
	}
}

// Signal is a transient broadcast delivered to every running peer on the
// hub step after it was sent.
type Signal struct {
	Kind   SignalKind
	Target EntityID
	From   PeerID
	Tick   uint64
}

type Status int32

const (
	StatusConnecting Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusRunning:
		return "RUNNING"
	case StatusStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("STATUS_%d", int32(s))
	}
}
