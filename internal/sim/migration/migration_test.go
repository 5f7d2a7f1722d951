package migration

import (
	"context"
	"errors"
	"testing"

	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/scene"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/zones"
)

var deskBox = geom.Box{Center: geom.At(geom.V(100, 0.8, 0)), Size: geom.V(1.5, 0.5, 1)}

type fixture struct {
	hub   *session.Hub
	rt    *session.Runner
	local *scene.Scene
	cat   *zones.Catalog
}

func newFixture(t *testing.T, cfg zones.Config) *fixture {
	t.Helper()
	h := session.NewHub(session.Config{}, nil)
	rt := h.Connect("p")
	h.Step()
	cat, err := zones.NewCatalog(cfg)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return &fixture{hub: h, rt: rt, local: scene.New(), cat: cat}
}

func oneTray() zones.Config {
	return zones.Config{
		Default:   zones.SlotSpec{ID: "table"},
		Reception: []zones.SlotSpec{{ID: "tray", Pos: geom.V(0, 0.8, 0)}},
	}
}

func (f *fixture) engine(opts Options) *Engine {
	opts.Local = f.local
	opts.Session = f.rt
	opts.Anchors = f.cat
	if opts.Config.Volume == (geom.Box{}) {
		opts.Config.Volume = deskBox
	}
	return New(opts)
}

func (f *fixture) node(name string, kind scene.ContentKind, pos geom.Vec3, surfaces ...geom.Vec3) scene.Handle {
	return f.local.Add(scene.Entity{Name: name, Class: scene.ClassNode, Content: kind, Transform: geom.At(pos), Text: name, Surfaces: surfaces})
}

func (f *fixture) edge(name string, a, b scene.Handle) scene.Handle {
	return f.local.Add(scene.Entity{Name: name, Class: scene.ClassEdge, Transform: geom.At(geom.V(100, 0.8, 0)), Start: a, End: b})
}

type recorder struct{ reports []Report }

func (r *recorder) RecordMigration(rep Report) { r.reports = append(r.reports, rep) }

func TestMigrate_NodesThenEdges(t *testing.T) {
	f := newFixture(t, oneTray())
	twin := []geom.Vec3{{}, geom.V(0.01, 0, 0), geom.V(0, 0.01, 0)}
	a := f.node("A", scene.ContentNote, geom.V(99.8, 0.8, 0), twin...)
	b := f.node("B", scene.ContentNote, geom.V(100, 0.8, 0), twin...)
	c := f.node("C", scene.ContentToken, geom.V(100.2, 0.8, 0))
	f.edge("AB", a, b)
	f.edge("BC", b, c)

	rec := &recorder{}
	rep, err := f.engine(Options{Recorder: rec}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if rep.Detections <= rep.Unique {
		t.Fatalf("expected overlapping detections: detections=%d unique=%d", rep.Detections, rep.Unique)
	}
	if len(rep.Nodes) != 3 || len(rep.Edges) != 2 || rep.Mapped != 3 {
		t.Fatalf("nodes=%d edges=%d mapped=%d findings=%+v", len(rep.Nodes), len(rep.Edges), rep.Mapped, rep.Findings)
	}
	if len(rep.Findings) != 0 {
		t.Fatalf("unexpected findings: %+v", rep.Findings)
	}
	if len(rec.reports) != 1 || rec.reports[0].RunID != rep.RunID {
		t.Fatalf("recorder not called once")
	}

	counts := map[session.Kind]int{}
	for _, e := range f.hub.Entities() {
		counts[e.Kind]++
		if e.Authority != f.rt.LocalPeer() {
			t.Fatalf("replica %s owned by %d", e.ID, e.Authority)
		}
	}
	if counts[session.KindNote] != 2 || counts[session.KindToken] != 1 || counts[session.KindEdge] != 2 {
		t.Fatalf("replica kinds: %v", counts)
	}

	byName := map[string]session.EntityID{}
	for _, n := range rep.Nodes {
		byName[n.Name] = n.ID
	}
	for _, ed := range rep.Edges {
		e, _ := f.rt.TryFind(ed.ID)
		switch ed.Name {
		case "AB":
			if e.Start != byName["A"] || e.End != byName["B"] {
				t.Fatalf("AB endpoints: %+v", e)
			}
		case "BC":
			if e.Start != byName["B"] || e.End != byName["C"] {
				t.Fatalf("BC endpoints: %+v", e)
			}
		}
	}
	tok, _ := f.rt.TryFind(byName["C"])
	if tok.Content != "C" || tok.Source != DefaultTokenSource {
		t.Fatalf("token content: %+v", tok)
	}
}

func TestMigrate_PreservesOffsetOnAnchor(t *testing.T) {
	f := newFixture(t, oneTray())
	f.node("A", scene.ContentNote, geom.V(100.1, 0.8, -0.2))
	rep, err := f.engine(Options{}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, _ := f.rt.TryFind(rep.Nodes[0].ID)
	if !e.Transform.Pos.ApproxEqual(geom.V(0.1, 0.8, -0.2), 1e-9) {
		t.Fatalf("replica pos: %+v", e.Transform.Pos)
	}
}

func TestMigrate_RotateOffsetIntoAnchorFrame(t *testing.T) {
	cfg := oneTray()
	cfg.Reception[0].YawDeg = 180
	f := newFixture(t, cfg)
	f.node("A", scene.ContentNote, geom.V(100.1, 0.8, -0.2))
	rep, err := f.engine(Options{Config: Config{Volume: deskBox, RotateOffset: true}}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, _ := f.rt.TryFind(rep.Nodes[0].ID)
	if !e.Transform.Pos.ApproxEqual(geom.V(-0.1, 0.8, 0.2), 1e-9) {
		t.Fatalf("replica pos: %+v", e.Transform.Pos)
	}
}

func TestMigrate_EdgeEndpointOnChildResolvesToAncestor(t *testing.T) {
	f := newFixture(t, oneTray())
	a := f.node("A", scene.ContentNote, geom.V(99.8, 0.8, 0))
	knob := f.local.Add(scene.Entity{Name: "A.knob", Parent: a, Transform: geom.At(geom.V(99.85, 0.8, 0))})
	b := f.node("B", scene.ContentNote, geom.V(100, 0.8, 0))
	f.edge("AB", knob, b)

	rep, err := f.engine(Options{}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(rep.Edges) != 1 || rep.Count(FindingUnresolvedEndpoint) != 0 {
		t.Fatalf("edges=%d findings=%+v", len(rep.Edges), rep.Findings)
	}
	if rep.Unclassified != 1 {
		t.Fatalf("knob should count as unclassified: %d", rep.Unclassified)
	}
}

func TestMigrate_SkipsEdgeToNonNode(t *testing.T) {
	f := newFixture(t, oneTray())
	a := f.node("A", scene.ContentNote, geom.V(99.8, 0.8, 0))
	lamp := f.local.Add(scene.Entity{Name: "lamp", Transform: geom.At(geom.V(100.3, 0.8, 0))})
	outside := f.node("far", scene.ContentNote, geom.V(105, 0.8, 0))
	f.edge("A-lamp", a, lamp)
	f.edge("A-far", a, outside)

	rep, err := f.engine(Options{}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(rep.Nodes) != 1 || len(rep.Edges) != 0 {
		t.Fatalf("nodes=%d edges=%d", len(rep.Nodes), len(rep.Edges))
	}
	if rep.Count(FindingUnresolvedEndpoint) != 2 {
		t.Fatalf("findings: %+v", rep.Findings)
	}
	for _, e := range f.hub.Entities() {
		if e.Kind == session.KindEdge {
			t.Fatalf("edge replica should not exist: %+v", e)
		}
	}
}

func TestMigrate_EdgeDetectedThroughChild(t *testing.T) {
	f := newFixture(t, oneTray())
	a := f.node("A", scene.ContentNote, geom.V(99.8, 0.8, 0))
	b := f.node("B", scene.ContentNote, geom.V(100, 0.8, 0))
	line := f.local.Add(scene.Entity{Name: "AB", Class: scene.ClassEdge, Transform: geom.At(geom.V(50, 0, 0)), Start: a, End: b})
	f.local.Add(scene.Entity{Name: "AB.collider", Parent: line, Transform: geom.At(geom.V(99.9, 0.8, 0))})
	f.local.Add(scene.Entity{Name: "AB.collider2", Parent: line, Transform: geom.At(geom.V(99.95, 0.8, 0))})

	rep, err := f.engine(Options{}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(rep.Edges) != 1 {
		t.Fatalf("edges=%d findings=%+v", len(rep.Edges), rep.Findings)
	}
}

func TestMigrate_NotConnectedSpawnsNothing(t *testing.T) {
	h := session.NewHub(session.Config{}, nil)
	rt := h.Connect("p")
	local := scene.New()
	local.Add(scene.Entity{Class: scene.ClassNode, Content: scene.ContentNote, Transform: geom.At(deskBox.Center.Pos)})
	eng := New(Options{Local: local, Session: rt, Config: Config{Volume: deskBox}})

	_, err := eng.Migrate(context.Background())
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, session.ErrNotRunning) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	h.Step()
	if n := len(h.Entities()); n != 0 {
		t.Fatalf("expected no replicas, got %d", n)
	}
}

func TestMigrate_EmptyVolumeIsNoop(t *testing.T) {
	f := newFixture(t, oneTray())
	rep, err := f.engine(Options{}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if rep.Detections != 0 || len(rep.Nodes) != 0 || len(f.hub.Entities()) != 0 {
		t.Fatalf("expected no-op: %+v", rep)
	}
}

func TestMigrate_MissingZonesFallsBack(t *testing.T) {
	f := newFixture(t, zones.Config{Default: zones.SlotSpec{ID: "table", Pos: geom.V(5, 0, 0)}})
	f.node("A", scene.ContentNote, geom.V(100, 0.8, 0))
	rep, err := f.engine(Options{}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !rep.AnchorFallback || rep.Count(FindingConfigMissing) != 1 || rep.Anchor.ID != "table" {
		t.Fatalf("expected fallback anchor: %+v", rep)
	}
	if len(rep.Nodes) != 1 {
		t.Fatalf("fallback should still migrate")
	}
}

func TestMigrate_EdgeSpawnFailureKeepsNodes(t *testing.T) {
	f := newFixture(t, oneTray())
	a := f.node("A", scene.ContentNote, geom.V(99.8, 0.8, 0))
	b := f.node("B", scene.ContentNote, geom.V(100, 0.8, 0))
	f.edge("AB", a, b)
	boom := EdgeFactoryFunc(func(Session, EdgeRequest) (session.Entity, error) {
		return session.Entity{}, errors.New("boom")
	})
	rep, err := f.engine(Options{Edges: boom}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(rep.Nodes) != 2 || rep.Count(FindingSpawnFailed) != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if n := len(f.hub.Entities()); n != 2 {
		t.Fatalf("nodes should stay after edge failure, have %d", n)
	}
}

func TestMigrate_UnknownClassAndMissingFactory(t *testing.T) {
	f := newFixture(t, oneTray())
	f.local.Add(scene.Entity{Name: "odd", Class: scene.Class(9), Transform: geom.At(deskBox.Center.Pos)})
	f.node("blank", scene.ContentNone, deskBox.Center.Pos)
	rep, err := f.engine(Options{}).Migrate(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if rep.Count(FindingUnknownClass) != 1 || rep.Count(FindingNoFactory) != 1 {
		t.Fatalf("findings: %+v", rep.Findings)
	}
}

func TestIdentityMap(t *testing.T) {
	m := NewIdentityMap()
	if err := m.Put(1, 10); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Put(1, 11); !errors.Is(err, ErrDuplicateHandle) {
		t.Fatalf("expected duplicate handle, got %v", err)
	}
	if err := m.Put(2, 10); !errors.Is(err, ErrDuplicateTarget) {
		t.Fatalf("expected duplicate target, got %v", err)
	}
	parents := map[scene.Handle]scene.Handle{3: 2, 2: 1}
	parent := func(h scene.Handle) (scene.Handle, bool) { p, ok := parents[h]; return p, ok }
	if id, ok := m.Resolve(3, parent); !ok || id != 10 {
		t.Fatalf("resolve via ancestors: %v %v", id, ok)
	}
	if _, ok := m.Resolve(4, parent); ok {
		t.Fatalf("unmapped handle resolved")
	}
	loop := func(h scene.Handle) (scene.Handle, bool) { return h + 100, true }
	if _, ok := m.Resolve(5, loop); ok {
		t.Fatalf("runaway chain should give up")
	}
	if m.Len() != 1 {
		t.Fatalf("len: %d", m.Len())
	}
}
