package scene

import (
	"testing"

	"sharedtable.ai/internal/sim/geom"
)

func TestScan_ReportsEachSurface(t *testing.T) {
	s := New()
	h := s.Add(Entity{
		Class:     ClassNode,
		Transform: geom.At(geom.V(0, 0, 0)),
		Surfaces:  []geom.Vec3{{}, geom.V(0.01, 0, 0), geom.V(5, 0, 0)},
	})
	s.Add(Entity{Class: ClassNode, Transform: geom.At(geom.V(3, 0, 0))})

	box := geom.Box{Center: geom.At(geom.Vec3{}), Size: geom.V(1, 1, 1)}
	got := s.Scan(box, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(got))
	}
	for _, e := range got {
		if e.Handle != h {
			t.Fatalf("unexpected handle %d", e.Handle)
		}
	}
	none := s.Scan(box, func(e Entity) bool { return e.Class == ClassEdge })
	if len(none) != 0 {
		t.Fatalf("filter ignored: %d", len(none))
	}
}

func TestRemove_TakesChildren(t *testing.T) {
	s := New()
	root := s.Add(Entity{Name: "root"})
	child := s.Add(Entity{Name: "child", Parent: root})
	s.Add(Entity{Name: "grandchild", Parent: child})
	other := s.Add(Entity{Name: "other"})
	if n := s.Remove(root); n != 3 {
		t.Fatalf("removed %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("left %d", s.Len())
	}
	if _, ok := s.Get(other); !ok {
		t.Fatalf("unrelated entity removed")
	}
}

func TestLoadFile_BuildsAtOrigin(t *testing.T) {
	f, err := LoadFile("../../../configs/scene.yaml")
	if err != nil {
		t.Fatalf("load scene.yaml: %v", err)
	}
	s := New()
	origin := geom.At(geom.V(100, 0, 0))
	names, err := f.Build(s, origin)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	a, ok := s.Get(names["note_a"])
	if !ok || a.Class != ClassNode || a.Content != ContentNote {
		t.Fatalf("note_a: %+v", a)
	}
	if !a.Transform.Pos.ApproxEqual(geom.V(99.7, 0.8, 0), 1e-9) {
		t.Fatalf("note_a pos: %+v", a.Transform.Pos)
	}
	anchor, _ := s.Get(names["note_a_anchor"])
	if anchor.Parent != names["note_a"] {
		t.Fatalf("anchor parent: %d", anchor.Parent)
	}
	line, _ := s.Get(names["line_ab"])
	if line.Class != ClassEdge || line.Start != names["note_a_anchor"] || line.End != names["note_b"] {
		t.Fatalf("line_ab: %+v", line)
	}
}

func TestValidate_RejectsUnknownClass(t *testing.T) {
	f := File{Entities: []EntitySpec{{Name: "x", Class: "widget"}}}
	if err := f.Validate(); err == nil {
		t.Fatalf("expected error for unknown class")
	}
	f = File{Entities: []EntitySpec{{Name: "x", Class: "edge", Start: "nope"}}}
	if err := f.Validate(); err == nil {
		t.Fatalf("expected error for dangling reference")
	}
}
