// Package migration promotes a peer's local desk content into the shared
// session: nodes first, then the edges between them.
package migration

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/scene"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/zones"
)

var ErrNotConnected = fmt.Errorf("migration: not connected: %w", session.ErrNotRunning)

// Local is the peer's private scene.
type Local interface {
	Scan(box geom.Box, filter scene.Filter) []scene.Entity
	Get(h scene.Handle) (scene.Entity, bool)
	Parent(h scene.Handle) (scene.Handle, bool)
}

// Session is the shared runtime replicas are spawned into.
type Session interface {
	LocalPeer() session.PeerID
	IsRunning() bool
	Tick() uint64
	Spawn(spec session.SpawnSpec) (session.Entity, error)
}

// Anchors picks the reception zone a peer's migrated content lands in.
type Anchors interface {
	ReceptionFor(peer int) (zones.Zone, bool)
}

// Config describes what one Migrate call scans.
type Config struct {
	// Volume is the scanned region. Its center is the reference point offsets
	// are measured from.
	Volume geom.Box
	// RotateOffset turns offsets into the anchor's frame instead of keeping
	// them world-aligned.
	RotateOffset bool
}

// Options wires an Engine. Nil factories, readers and clocks fall back to defaults.
type Options struct {
	Local     Local
	Session   Session
	Anchors   Anchors
	Factories map[scene.ContentKind]Factory
	Edges     EdgeFactory
	Read      ContentReader
	Recorder  Recorder
	Config    Config
	Logger    *log.Logger
	Now       func() time.Time
}

// Engine runs migrations for one peer.
type Engine struct {
	local     Local
	rt        Session
	anchors   Anchors
	factories map[scene.ContentKind]Factory
	edges     EdgeFactory
	read      ContentReader
	rec       Recorder
	cfg       Config
	log       *log.Logger
	now       func() time.Time
}

func New(opts Options) *Engine {
	e := &Engine{
		local:     opts.Local,
		rt:        opts.Session,
		anchors:   opts.Anchors,
		factories: opts.Factories,
		edges:     opts.Edges,
		read:      opts.Read,
		rec:       opts.Recorder,
		cfg:       opts.Config,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if e.factories == nil {
		e.factories = DefaultFactories()
	}
	if e.edges == nil {
		e.edges = DefaultEdgeFactory
	}
	if e.read == nil {
		e.read = ReadContent
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Migrate scans the configured volume.
func (e *Engine) Migrate(ctx context.Context) (Report, error) {
	return e.MigrateVolume(ctx, e.cfg.Volume)
}

// MigrateVolume promotes every node found in box, then every edge whose
// endpoints both resolved to a migrated node. Without a running session it
// returns ErrNotConnected and spawns nothing. Once spawning has started the
// run is not interrupted.
func (e *Engine) MigrateVolume(ctx context.Context, box geom.Box) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if e.rt == nil || !e.rt.IsRunning() {
		return Report{}, ErrNotConnected
	}
	start := e.now()
	peer := e.rt.LocalPeer()
	rep := Report{
		RunID:     uuid.NewString(),
		Peer:      peer,
		Tick:      e.rt.Tick(),
		StartedAt: start,
		Nodes:     []Migrated{},
		Edges:     []Migrated{},
		Findings:  []Finding{},
	}

	anchor, ok := zones.Zone{Index: -1, Transform: geom.At(box.Center.Pos)}, false
	if e.anchors != nil {
		anchor, ok = e.anchors.ReceptionFor(int(peer))
	}
	rep.Anchor = anchor
	if !ok {
		rep.AnchorFallback = true
		rep.Findings = append(rep.Findings, Finding{Code: FindingConfigMissing, Detail: "no reception zones, using " + anchor.ID})
	}

	hits := e.local.Scan(box, nil)
	rep.Detections = len(hits)
	nodes, edges := e.classify(hits, &rep)

	ids := NewIdentityMap()
	for _, n := range nodes {
		f := e.factories[n.Content]
		if f == nil {
			rep.Findings = append(rep.Findings, Finding{Code: FindingNoFactory, Handle: n.Handle, Name: n.Name, Detail: n.Content.String()})
			continue
		}
		replica, err := f.Create(e.rt, SpawnRequest{
			Source:    n,
			Content:   e.read(n),
			Transform: e.place(n.Transform, box, anchor.Transform),
			Owner:     peer,
		})
		if err != nil {
			rep.Findings = append(rep.Findings, Finding{Code: FindingSpawnFailed, Handle: n.Handle, Name: n.Name, Detail: err.Error()})
			continue
		}
		if err := ids.Put(n.Handle, replica.ID); err != nil {
			rep.Findings = append(rep.Findings, Finding{Code: FindingIdentityConflict, Handle: n.Handle, Name: n.Name, Detail: err.Error()})
			continue
		}
		rep.Nodes = append(rep.Nodes, Migrated{Handle: n.Handle, Name: n.Name, ID: replica.ID, Kind: replica.Kind})
	}

	for _, ed := range edges {
		from, okFrom := ids.Resolve(ed.Start, e.local.Parent)
		to, okTo := ids.Resolve(ed.End, e.local.Parent)
		if !okFrom || !okTo {
			rep.Findings = append(rep.Findings, Finding{
				Code:   FindingUnresolvedEndpoint,
				Handle: ed.Handle,
				Name:   ed.Name,
				Detail: fmt.Sprintf("start_resolved=%v end_resolved=%v", okFrom, okTo),
			})
			continue
		}
		replica, err := e.edges.CreateEdge(e.rt, EdgeRequest{
			Source:    ed,
			Start:     from,
			End:       to,
			Transform: e.place(ed.Transform, box, anchor.Transform),
			Owner:     peer,
		})
		if err != nil {
			rep.Findings = append(rep.Findings, Finding{Code: FindingSpawnFailed, Handle: ed.Handle, Name: ed.Name, Detail: err.Error()})
			continue
		}
		rep.Edges = append(rep.Edges, Migrated{Handle: ed.Handle, Name: ed.Name, ID: replica.ID, Kind: replica.Kind})
	}

	rep.Mapped = ids.Len()
	rep.Duration = e.now().Sub(start)
	if e.rec != nil {
		e.rec.RecordMigration(rep)
	}
	if e.log != nil {
		e.log.Printf("migration: run=%s peer=%d anchor=%s detections=%d nodes=%d edges=%d findings=%d",
			rep.RunID, peer, anchor.ID, rep.Detections, len(rep.Nodes), len(rep.Edges), len(rep.Findings))
	}
	return rep, nil
}

// classify dedupes scan hits by handle and splits them into nodes and edges.
// A hit on an unclassified child of an edge counts as a hit on that edge.
func (e *Engine) classify(hits []scene.Entity, rep *Report) (nodes, edges []scene.Entity) {
	seen := map[scene.Handle]bool{}
	for _, hit := range hits {
		if seen[hit.Handle] {
			continue
		}
		seen[hit.Handle] = true
		rep.Unique++
		switch hit.Class {
		case scene.ClassNode:
			nodes = append(nodes, hit)
		case scene.ClassEdge:
			edges = append(edges, hit)
		case scene.ClassUnclassified:
			owner, ok := e.owningEdge(hit)
			if !ok {
				rep.Unclassified++
				continue
			}
			if seen[owner.Handle] {
				continue
			}
			seen[owner.Handle] = true
			edges = append(edges, owner)
		default:
			rep.Findings = append(rep.Findings, Finding{Code: FindingUnknownClass, Handle: hit.Handle, Name: hit.Name, Detail: hit.Class.String()})
		}
	}
	return nodes, edges
}

func (e *Engine) owningEdge(child scene.Entity) (scene.Entity, bool) {
	cur := child.Handle
	for i := 0; i < maxAncestors; i++ {
		p, ok := e.local.Parent(cur)
		if !ok {
			return scene.Entity{}, false
		}
		pe, ok := e.local.Get(p)
		if !ok {
			return scene.Entity{}, false
		}
		if pe.Class == scene.ClassEdge {
			return pe, true
		}
		cur = p
	}
	return scene.Entity{}, false
}

// place keeps the entity's offset from the volume's center, re-rooted on anchor.
func (e *Engine) place(t geom.Transform, box geom.Box, anchor geom.Transform) geom.Transform {
	offset := t.Pos.Sub(box.Center.Pos)
	if !e.cfg.RotateOffset {
		return geom.Transform{Pos: anchor.Pos.Add(offset), Rot: t.Rot}
	}
	frame := anchor.Rot.Mul(box.Center.Rot.Inverse())
	return geom.Transform{Pos: anchor.Pos.Add(frame.Rotate(offset)), Rot: frame.Mul(t.Rot)}
}
