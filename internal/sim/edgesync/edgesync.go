// Package edgesync tracks replicated edges on one peer, re-resolving both
// endpoints by id every tick.
package edgesync

import (
	"fmt"
	"log"
	"sort"

	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/session"
)

type State uint8

const (
	Resolving State = iota
	Live
	Orphaned
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "RESOLVING"
	case Live:
		return "LIVE"
	case Orphaned:
		return "ORPHANED"
	default:
		return fmt.Sprintf("STATE_%d", uint8(s))
	}
}

// HandleScale is the edge length of the midpoint delete handle.
const HandleScale = 0.04

type Resolver interface {
	TryFind(id session.EntityID) (session.Entity, bool)
	Entities() []session.Entity
}

// Handle is the interaction handle at an edge's midpoint. It lives and dies
// with its edge.
type Handle struct {
	Pos     geom.Vec3
	Rot     geom.Quat
	Scale   float64
	Visible bool
}

// RenderState is what the renderer needs for one edge.
type RenderState struct {
	Edge    session.EntityID
	State   State
	Start   geom.Vec3
	End     geom.Vec3
	Visible bool
	Handle  *Handle
}

type edge struct {
	id       session.EntityID
	start    session.EntityID
	end      session.EntityID
	state    State
	startPos geom.Vec3
	endPos   geom.Vec3
	handle   *Handle
}

type Synchronizer struct {
	rt  Resolver
	log *log.Logger

	edges   map[session.EntityID]*edge
	lookups uint64
	handles int
}

func New(rt Resolver, logger *log.Logger) *Synchronizer {
	return &Synchronizer{rt: rt, log: logger, edges: map[session.EntityID]*edge{}}
}

// Tick discovers new edges, forgets despawned ones and advances every
// tracked edge once.
func (s *Synchronizer) Tick() {
	present := map[session.EntityID]session.Entity{}
	for _, e := range s.rt.Entities() {
		if e.Kind == session.KindEdge {
			present[e.ID] = e
		}
	}
	for id := range s.edges {
		if _, ok := present[id]; !ok {
			delete(s.edges, id)
		}
	}
	for id, e := range present {
		tr, ok := s.edges[id]
		if !ok {
			tr = &edge{id: id, state: Resolving}
			s.edges[id] = tr
		}
		if tr.state == Resolving {
			tr.start, tr.end = e.Start, e.End
		}
	}
	for _, id := range s.order() {
		s.step(s.edges[id])
	}
}

func (s *Synchronizer) step(e *edge) {
	switch e.state {
	case Resolving:
		a, b, ok := s.resolve(e)
		if !ok {
			return
		}
		e.state = Live
		if e.handle == nil {
			e.handle = &Handle{Rot: geom.Identity(), Scale: HandleScale}
			s.handles++
		}
		s.place(e, a, b)
	case Live:
		a, b, ok := s.resolve(e)
		if !ok {
			e.state = Orphaned
			e.handle.Visible = false
			if s.log != nil {
				s.log.Printf("edgesync: edge %s orphaned (start=%s end=%s)", e.id, e.start, e.end)
			}
			return
		}
		s.place(e, a, b)
	case Orphaned:
	default:
		panic(fmt.Sprintf("edgesync: edge %s in unknown state %d", e.id, e.state))
	}
}

// resolve looks up the start endpoint and, only if that succeeded, the end.
func (s *Synchronizer) resolve(e *edge) (geom.Vec3, geom.Vec3, bool) {
	s.lookups++
	a, ok := s.rt.TryFind(e.start)
	if !ok {
		return geom.Vec3{}, geom.Vec3{}, false
	}
	s.lookups++
	b, ok := s.rt.TryFind(e.end)
	if !ok {
		return geom.Vec3{}, geom.Vec3{}, false
	}
	return a.Transform.Pos, b.Transform.Pos, true
}

func (s *Synchronizer) place(e *edge, a, b geom.Vec3) {
	e.startPos, e.endPos = a, b
	e.handle.Pos = geom.Mid(a, b)
	e.handle.Visible = true
}

func (s *Synchronizer) order() []session.EntityID {
	ids := make([]session.EntityID, 0, len(s.edges))
	for id := range s.edges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Synchronizer) State(id session.EntityID) (State, bool) {
	e, ok := s.edges[id]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// States returns one render state per tracked edge, ordered by id.
func (s *Synchronizer) States() []RenderState {
	out := make([]RenderState, 0, len(s.edges))
	for _, id := range s.order() {
		e := s.edges[id]
		rs := RenderState{Edge: id, State: e.state, Visible: e.state == Live}
		if e.state == Live {
			rs.Start, rs.End = e.startPos, e.endPos
		}
		if e.handle != nil {
			h := *e.handle
			rs.Handle = &h
		}
		out = append(out, rs)
	}
	return out
}

// Counts tallies tracked edges by state.
func (s *Synchronizer) Counts() (resolving, live, orphaned int) {
	for _, e := range s.edges {
		switch e.state {
		case Resolving:
			resolving++
		case Live:
			live++
		case Orphaned:
			orphaned++
		}
	}
	return
}

// HandlesCreated counts midpoint handles ever created.
func (s *Synchronizer) HandlesCreated() int { return s.handles }

// Lookups counts endpoint lookups issued so far.
func (s *Synchronizer) Lookups() uint64 { return s.lookups }
