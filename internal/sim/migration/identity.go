package migration

import (
	"errors"

	"sharedtable.ai/internal/sim/scene"
	"sharedtable.ai/internal/sim/session"
)

var (
	ErrDuplicateHandle = errors.New("migration: handle already mapped")
	ErrDuplicateTarget = errors.New("migration: replicated id already mapped")
)

// maxAncestors bounds Resolve on malformed parent chains.
const maxAncestors = 64

// IdentityMap translates local handles to the ids of their replicas. It is
// built by one migration run and dropped at the end of it.
type IdentityMap struct {
	byHandle map[scene.Handle]session.EntityID
	byID     map[session.EntityID]scene.Handle
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		byHandle: map[scene.Handle]session.EntityID{},
		byID:     map[session.EntityID]scene.Handle{},
	}
}

// Put records h -> id. Both sides must be new to the map.
func (m *IdentityMap) Put(h scene.Handle, id session.EntityID) error {
	if _, ok := m.byHandle[h]; ok {
		return ErrDuplicateHandle
	}
	if _, ok := m.byID[id]; ok {
		return ErrDuplicateTarget
	}
	m.byHandle[h] = id
	m.byID[id] = h
	return nil
}

func (m *IdentityMap) Lookup(h scene.Handle) (session.EntityID, bool) {
	id, ok := m.byHandle[h]
	return id, ok
}

// Resolve finds h or its nearest mapped ancestor.
func (m *IdentityMap) Resolve(h scene.Handle, parent func(scene.Handle) (scene.Handle, bool)) (session.EntityID, bool) {
	cur := h
	for i := 0; i < maxAncestors && cur != 0; i++ {
		if id, ok := m.byHandle[cur]; ok {
			return id, true
		}
		if parent == nil {
			return 0, false
		}
		next, ok := parent(cur)
		if !ok {
			return 0, false
		}
		cur = next
	}
	return 0, false
}

func (m *IdentityMap) Len() int { return len(m.byHandle) }
