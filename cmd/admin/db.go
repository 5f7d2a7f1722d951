package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	_ "modernc.org/sqlite"
)

type dbQuery struct {
	sql string
	// byPeer queries take the peer filter twice, then the limit.
	byPeer bool
}

var dbQueries = map[string]dbQuery{
	"migrations": {sql: `SELECT run_id,peer,tick,anchor,anchor_fallback,detections,nodes,edges,findings,duration_ms FROM migrations WHERE (?=0 OR peer=?) ORDER BY tick DESC, run_id LIMIT ?`, byPeer: true},
	"audits":     {sql: `SELECT tick,seq,peer,action,entity,run_id,reason FROM audits WHERE (?=0 OR peer=?) ORDER BY tick DESC, seq DESC LIMIT ?`, byPeer: true},
	"ticks":      {sql: `SELECT peer,tick,resolving,live,orphaned,panels,flashes FROM ticks WHERE (?=0 OR peer=?) ORDER BY tick DESC, peer LIMIT ?`, byPeer: true},
	"exports":    {sql: `SELECT path,tick,digest,nodes,connections,recorded_at FROM exports ORDER BY tick DESC LIMIT ?`},
	"configs":    {sql: `SELECT name,digest,updated_at FROM configs ORDER BY name LIMIT ?`},
	"findings":   {sql: `SELECT run_id,seq,code,name,detail FROM findings WHERE run_id=? ORDER BY seq LIMIT ?`},
}

func dbCmd(args []string) {
	fs := pflag.NewFlagSet("db", pflag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/session.sqlite)")
	peer := fs.Int("peer", 0, "peer id filter (migrations, audits, ticks)")
	runID := fs.String("run", "", "migration run id (findings)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "migrations"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "session.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := runQuery(db, q, *peer, *runID, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func runQuery(db *sql.DB, name string, peer int, runID string, limit int) ([]map[string]any, error) {
	q, ok := dbQueries[name]
	if !ok {
		return nil, fmt.Errorf("unknown query %q", name)
	}
	if limit <= 0 {
		limit = 20
	}
	var args []any
	switch {
	case q.byPeer:
		args = []any{peer, peer, limit}
	case name == "findings":
		if runID == "" {
			return nil, fmt.Errorf("findings needs --run")
		}
		args = []any{runID, limit}
	default:
		args = []any{limit}
	}

	rows, err := db.Query(q.sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				r[c] = string(b)
			} else {
				r[c] = vals[i]
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
