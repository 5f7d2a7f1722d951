package main

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sharedtable.ai/internal/persistence/export"
	"sharedtable.ai/internal/persistence/indexdb"
	"sharedtable.ai/internal/sim/session"
)

func TestRunQuery_Exports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	snap := export.Build([]session.Entity{{ID: 1, Kind: session.KindNote, Content: "a"}}, 12, time.Unix(0, 0))
	idx.RecordExport("exports/graph.json.zst", snap)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	rows, err := runQuery(db, "exports", 0, "", 0)
	if err != nil {
		t.Fatalf("runQuery: %v", err)
	}
	if len(rows) != 1 || rows[0]["digest"] != snap.Header.Digest || rows[0]["path"] != "exports/graph.json.zst" {
		t.Fatalf("rows: %+v", rows)
	}

	if _, err := runQuery(db, "nope", 0, "", 0); err == nil {
		t.Fatalf("expected unknown query error")
	}
	if _, err := runQuery(db, "findings", 0, "", 0); err == nil {
		t.Fatalf("expected missing run id error")
	}
	if rows, err := runQuery(db, "migrations", 2, "", 5); err != nil || len(rows) != 0 {
		t.Fatalf("migrations: %v %v", rows, err)
	}
}

func TestGestureBody(t *testing.T) {
	b, err := gestureBody("grab_start", "E42")
	if err != nil {
		t.Fatalf("gestureBody: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m["kind"] != "grab_start" || m["target"] != float64(42) {
		t.Fatalf("body: %s", b)
	}
	for _, bad := range []string{"", "E0", "x"} {
		if _, err := gestureBody("grab_start", bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestListPeers(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"bob", "alice"} {
		if err := os.MkdirAll(filepath.Join(dir, "peers", n), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	names, err := listPeers(dir)
	if err != nil || len(names) != 2 || names[0] != "alice" {
		t.Fatalf("names=%v err=%v", names, err)
	}
}

func TestAdminURL(t *testing.T) {
	if got := adminURL(" http://h:1/ ", "/admin/v1/state"); got != "http://h:1/admin/v1/state" {
		t.Fatalf("adminURL: %s", got)
	}
}
