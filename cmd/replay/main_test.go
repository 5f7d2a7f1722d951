package main

import (
	"path/filepath"
	"testing"
	"time"

	"sharedtable.ai/internal/persistence/export"
	persistlog "sharedtable.ai/internal/persistence/log"
	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/table"
)

func TestVerifyExport(t *testing.T) {
	ents := []session.Entity{
		{ID: 1, Kind: session.KindNote, Content: "a", Transform: geom.At(geom.V(0, 1, 0))},
		{ID: 2, Kind: session.KindNote, Content: "b"},
		{ID: 3, Kind: session.KindEdge, Start: 1, End: 2},
		{ID: 4, Kind: session.KindEdge, Start: 1, End: 9},
	}
	snap := export.Build(ents, 7, time.Unix(0, 0))
	dangling, err := verifyExport(snap)
	if err != nil {
		t.Fatalf("verifyExport: %v", err)
	}
	if dangling != 1 {
		t.Fatalf("dangling=%d want 1", dangling)
	}

	snap.Nodes[0].Content = "tampered"
	if _, err := verifyExport(snap); err == nil {
		t.Fatalf("expected digest mismatch")
	}
}

func TestTickCheck(t *testing.T) {
	var c tickCheck
	for _, tick := range []uint64{3, 4, 6} {
		if err := c.add(table.TickLogEntry{Tick: tick, Orphaned: int(tick)}); err != nil {
			t.Fatalf("add %d: %v", tick, err)
		}
	}
	if c.checked != 3 || c.first != 3 || c.last != 6 || c.gaps != 1 || c.orphanedMax != 6 {
		t.Fatalf("check: %+v", c)
	}
	if err := c.add(table.TickLogEntry{Tick: 5}); err == nil {
		t.Fatalf("expected backwards tick error")
	}
}

func TestScanAudit_CountsActionsInWindow(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewAuditLogger(dir)
	for i, action := range []string{table.AuditMigrate, table.AuditPanelSpawn, table.AuditMigrate} {
		if err := l.WriteAudit(table.AuditEntry{Tick: uint64(i + 1), Peer: 1, Action: action}); err != nil {
			t.Fatalf("WriteAudit: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := listLogFiles(filepath.Join(dir, "audit"), "audit-")
	if err != nil || len(files) != 1 {
		t.Fatalf("listLogFiles: %v %v", files, err)
	}
	counts := map[string]int{}
	if err := scanAudit(files[0], tickWindow{from: 2}, counts); err != nil {
		t.Fatalf("scanAudit: %v", err)
	}
	if counts[table.AuditMigrate] != 1 || counts[table.AuditPanelSpawn] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestListLogFiles_MissingDir(t *testing.T) {
	files, err := listLogFiles(filepath.Join(t.TempDir(), "nope"), "ticks-")
	if err != nil || len(files) != 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
}
