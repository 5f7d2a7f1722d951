package migration

import (
	"strings"

	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/scene"
	"sharedtable.ai/internal/sim/session"
)

// DefaultTokenSource tags tokens whose local copy carried no source id.
const DefaultTokenSource = "migrated_token"

// Content is the payload carried from a local entity to its replica.
type Content struct {
	Text   string
	Source string
}

type ContentReader func(scene.Entity) Content

func ReadContent(e scene.Entity) Content {
	c := Content{Text: e.Text, Source: e.Source}
	if e.Content == scene.ContentToken && strings.TrimSpace(c.Source) == "" {
		c.Source = DefaultTokenSource
	}
	return c
}

type SpawnRequest struct {
	Source    scene.Entity
	Content   Content
	Transform geom.Transform
	Owner     session.PeerID
}

// Factory creates the replica of one kind of node.
type Factory interface {
	Create(rt Session, req SpawnRequest) (session.Entity, error)
}

type FactoryFunc func(rt Session, req SpawnRequest) (session.Entity, error)

func (f FactoryFunc) Create(rt Session, req SpawnRequest) (session.Entity, error) { return f(rt, req) }

func spawnAs(kind session.Kind) FactoryFunc {
	return func(rt Session, req SpawnRequest) (session.Entity, error) {
		return rt.Spawn(session.SpawnSpec{
			Kind:      kind,
			Transform: req.Transform,
			Owner:     req.Owner,
			Content:   req.Content.Text,
			Source:    req.Content.Source,
		})
	}
}

var (
	NoteFactory  Factory = spawnAs(session.KindNote)
	TokenFactory Factory = spawnAs(session.KindToken)
)

// DefaultFactories maps each node content kind to its factory.
func DefaultFactories() map[scene.ContentKind]Factory {
	return map[scene.ContentKind]Factory{
		scene.ContentNote:  NoteFactory,
		scene.ContentToken: TokenFactory,
	}
}

type EdgeRequest struct {
	Source    scene.Entity
	Start     session.EntityID
	End       session.EntityID
	Transform geom.Transform
	Owner     session.PeerID
}

type EdgeFactory interface {
	CreateEdge(rt Session, req EdgeRequest) (session.Entity, error)
}

type EdgeFactoryFunc func(rt Session, req EdgeRequest) (session.Entity, error)

func (f EdgeFactoryFunc) CreateEdge(rt Session, req EdgeRequest) (session.Entity, error) {
	return f(rt, req)
}

var DefaultEdgeFactory EdgeFactory = EdgeFactoryFunc(func(rt Session, req EdgeRequest) (session.Entity, error) {
	return rt.Spawn(session.SpawnSpec{
		Kind:      session.KindEdge,
		Transform: req.Transform,
		Owner:     req.Owner,
		Start:     req.Start,
		End:       req.End,
	})
})
