package zones

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ZonesYAML(t *testing.T) {
	cfg, err := Load("../../../configs/zones.yaml")
	if err != nil {
		t.Fatalf("load zones.yaml: %v", err)
	}
	if len(cfg.Reception) != 4 || len(cfg.Spawns) != 4 || len(cfg.Desks) != 4 {
		t.Fatalf("unexpected slot counts: reception=%d spawns=%d desks=%d", len(cfg.Reception), len(cfg.Spawns), len(cfg.Desks))
	}
	cat, err := NewCatalog(cfg)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if d := cat.Default(); d.ID == "" || d.Index != -1 {
		t.Fatalf("default zone: %+v", d)
	}
}

func TestReceptionFor_StableAndPeriodic(t *testing.T) {
	cat, err := NewCatalog(defaults())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	n, _, _ := cat.Counts()
	for k := -9; k <= 9; k++ {
		a, ok := cat.ReceptionFor(k)
		if !ok {
			t.Fatalf("peer %d: expected configured zone", k)
		}
		b, _ := cat.ReceptionFor(k)
		if a != b {
			t.Fatalf("peer %d: unstable zone %+v vs %+v", k, a, b)
		}
		c, _ := cat.ReceptionFor(k + n)
		if a != c {
			t.Fatalf("peer %d: not periodic: %+v vs %+v", k, a, c)
		}
		if a.Index < 0 || a.Index >= n {
			t.Fatalf("peer %d: index out of range %d", k, a.Index)
		}
	}
}

func TestSpawnAndReceptionShareIndex(t *testing.T) {
	cat, _ := NewCatalog(defaults())
	for k := 0; k < 8; k++ {
		r, _ := cat.ReceptionFor(k)
		s, _ := cat.SpawnFor(k)
		d, _ := cat.DeskFor(k)
		if r.Index != s.Index || s.Index != d.Index {
			t.Fatalf("peer %d: tray %d spawn %d desk %d should line up", k, r.Index, s.Index, d.Index)
		}
	}
}

func TestEmptyListsFallBackToDefault(t *testing.T) {
	cat, err := NewCatalog(Config{Default: SlotSpec{ID: "table"}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	z, ok := cat.ReceptionFor(3)
	if ok {
		t.Fatalf("expected fallback")
	}
	if z.Index != -1 || z.ID != "table" {
		t.Fatalf("fallback zone: %+v", z)
	}
	if _, ok := cat.SpawnFor(1); ok {
		t.Fatalf("spawn lookup should fall back too")
	}
}

func TestColorFor(t *testing.T) {
	cat, _ := NewCatalog(defaults())
	if got := cat.ColorFor(0).Hex(); got != "#00FFFF" {
		t.Fatalf("peer 0 colour: %s", got)
	}
	if cat.ColorFor(1) != cat.ColorFor(5) {
		t.Fatalf("palette should cycle")
	}
}

func TestLoad_RejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "zones.yaml")
	raw := []byte("reception_zones:\n  - {id: a}\nspawn_points:\n  - {id: a}\n")
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}
