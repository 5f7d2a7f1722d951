// Package scene holds a peer's local-only entities: the private desk content
// that exists before migration and is never replicated itself.
package scene

import (
	"fmt"
	"sort"
	"sync"

	"sharedtable.ai/internal/sim/geom"
)

// Handle identifies a local entity. Zero is never assigned.
type Handle uint64

type Class uint8

const (
	ClassUnclassified Class = iota
	ClassNode
	ClassEdge
)

func (c Class) String() string {
	switch c {
	case ClassUnclassified:
		return "UNCLASSIFIED"
	case ClassNode:
		return "NODE"
	case ClassEdge:
		return "EDGE"
	default:
		return fmt.Sprintf("CLASS_%d", uint8(c))
	}
}

func ParseClass(s string) (Class, error) {
	switch s {
	case "", "unclassified":
		return ClassUnclassified, nil
	case "node":
		return ClassNode, nil
	case "edge":
		return ClassEdge, nil
	default:
		return 0, fmt.Errorf("unknown class %q", s)
	}
}

type ContentKind uint8

const (
	ContentNone ContentKind = iota
	ContentNote
	ContentToken
)

func (k ContentKind) String() string {
	switch k {
	case ContentNone:
		return "NONE"
	case ContentNote:
		return "NOTE"
	case ContentToken:
		return "TOKEN"
	default:
		return fmt.Sprintf("CONTENT_%d", uint8(k))
	}
}

func ParseContentKind(s string) (ContentKind, error) {
	switch s {
	case "", "none":
		return ContentNone, nil
	case "note":
		return ContentNote, nil
	case "token":
		return ContentToken, nil
	default:
		return 0, fmt.Errorf("unknown content kind %q", s)
	}
}

// Entity is a local object. Transform is in world space. Surfaces are
// detection points in the entity's local frame; an entity with no surfaces
// is detected at its origin.
type Entity struct {
	Handle    Handle
	Parent    Handle
	Name      string
	Class     Class
	Content   ContentKind
	Transform geom.Transform

	Text   string
	Source string

	// Edge endpoints. They may point at a child of the real node.
	Start Handle
	End   Handle

	Surfaces []geom.Vec3
}

// Filter narrows a scan. A nil filter accepts everything.
type Filter func(Entity) bool

type Scene struct {
	mu       sync.RWMutex
	next     Handle
	entities map[Handle]*Entity
}

func New() *Scene {
	return &Scene{entities: map[Handle]*Entity{}}
}

// Add stores e and assigns its handle.
func (s *Scene) Add(e Entity) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	e.Handle = s.next
	e.Surfaces = append([]geom.Vec3(nil), e.Surfaces...)
	s.entities[e.Handle] = &e
	return e.Handle
}

// Remove deletes h and everything parented under it.
func (s *Scene) Remove(h Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[h]; !ok {
		return 0
	}
	n := 0
	queue := []Handle{h}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := s.entities[cur]; !ok {
			continue
		}
		delete(s.entities, cur)
		n++
		for id, e := range s.entities {
			if e.Parent == cur {
				queue = append(queue, id)
			}
		}
	}
	return n
}

func (s *Scene) Get(h Handle) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[h]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Parent returns h's parent handle, if any.
func (s *Scene) Parent(h Handle) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[h]
	if !ok || e.Parent == 0 {
		return 0, false
	}
	return e.Parent, true
}

func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Scan returns one result per detection surface inside box, so an entity
// with several overlapping surfaces is reported several times. Results are
// ordered by handle.
func (s *Scene) Scan(box geom.Box, filter Filter) []Entity {
	s.mu.RLock()
	ids := make([]Handle, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []Entity
	for _, id := range ids {
		e, ok := s.Get(id)
		if !ok {
			continue
		}
		if filter != nil && !filter(e) {
			continue
		}
		surfaces := e.Surfaces
		if len(surfaces) == 0 {
			surfaces = []geom.Vec3{{}}
		}
		for _, local := range surfaces {
			if box.Contains(e.Transform.ToWorld(local)) {
				out = append(out, e)
			}
		}
	}
	return out
}
