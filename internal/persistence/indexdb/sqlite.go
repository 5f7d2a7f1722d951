package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"sharedtable.ai/internal/persistence/export"
	"sharedtable.ai/internal/sim/table"
	"sharedtable.ai/internal/sim/tuning"
	"sharedtable.ai/internal/sim/zones"
)

// SQLiteIndex is a queryable secondary index over the audit and tick
// streams. The JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick   atomic.Uint64
	dropAudit  atomic.Uint64
	dropExport atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqExport
)

type req struct {
	kind reqKind

	tick  table.TickLogEntry
	audit table.AuditEntry
	exp   exportRow
}

type exportRow struct {
	Path        string
	Tick        uint64
	Digest      string
	Nodes       int
	Connections int
	RecordedAt  string
}

type Stats struct {
	DropTickTotal   uint64
	DropAuditTotal  uint64
	DropExportTotal uint64
	QueueDepth      int
	QueueCapacity   int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			peer INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			resolving INTEGER NOT NULL,
			live INTEGER NOT NULL,
			orphaned INTEGER NOT NULL,
			panels INTEGER NOT NULL,
			flashes INTEGER NOT NULL,
			PRIMARY KEY (peer, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			peer INTEGER NOT NULL,
			action TEXT NOT NULL,
			entity INTEGER NOT NULL,
			run_id TEXT,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_peer_tick ON audits(peer, tick);`,
		`CREATE TABLE IF NOT EXISTS migrations (
			run_id TEXT PRIMARY KEY,
			peer INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			anchor TEXT NOT NULL,
			anchor_fallback INTEGER NOT NULL,
			detections INTEGER NOT NULL,
			nodes INTEGER NOT NULL,
			edges INTEGER NOT NULL,
			findings INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_migrations_peer_tick ON migrations(peer, tick);`,
		`CREATE TABLE IF NOT EXISTS findings (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			code TEXT NOT NULL,
			name TEXT,
			detail TEXT,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS exports (
			path TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			nodes INTEGER NOT NULL,
			connections INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTickTotal:   s.dropTick.Load(),
		DropAuditTotal:  s.dropAudit.Load(),
		DropExportTotal: s.dropExport.Load(),
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
	}
}

func (s *SQLiteIndex) WriteTick(entry table.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry table.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordExport(path string, snap export.GraphSnapshot) {
	if s == nil || s.closed.Load() {
		return
	}
	r := exportRow{
		Path:        path,
		Tick:        snap.Header.Tick,
		Digest:      snap.Header.Digest,
		Nodes:       len(snap.Nodes),
		Connections: len(snap.Connections),
		RecordedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqExport, exp: r}:
	default:
		s.dropExport.Add(1)
	}
}

// UpsertConfigs stores the configuration actually applied at startup.
func (s *SQLiteIndex) UpsertConfigs(tune tuning.Tuning, layout zones.Config) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name string
		json []byte
	}
	var rows []kv
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, kv{name: "tuning", json: b})
	}
	if b, err := json.Marshal(layout); err == nil {
		rows = append(rows, kv{name: "zones", json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, export.Digest(r.json), string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MigrationRow is one indexed migration run.
type MigrationRow struct {
	RunID          string `json:"run_id"`
	Peer           int    `json:"peer"`
	Tick           uint64 `json:"tick"`
	Anchor         string `json:"anchor"`
	AnchorFallback bool   `json:"anchor_fallback"`
	Detections     int    `json:"detections"`
	Nodes          int    `json:"nodes"`
	Edges          int    `json:"edges"`
	Findings       int    `json:"findings"`
	DurationMs     int64  `json:"duration_ms"`
}

// Migrations lists the most recent runs, newest first. peer <= 0 means all peers.
// Rows still queued in the writer are not visible yet.
func (s *SQLiteIndex) Migrations(ctx context.Context, peer, limit int) ([]MigrationRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT run_id,peer,tick,anchor,anchor_fallback,detections,nodes,edges,findings,duration_ms FROM migrations`
	args := []any{}
	if peer > 0 {
		q += ` WHERE peer=?`
		args = append(args, peer)
	}
	q += ` ORDER BY tick DESC, run_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MigrationRow
	for rows.Next() {
		var (
			r        MigrationRow
			tick     int64
			fallback int
		)
		if err := rows.Scan(&r.RunID, &r.Peer, &tick, &r.Anchor, &fallback, &r.Detections, &r.Nodes, &r.Edges, &r.Findings, &r.DurationMs); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		r.AnchorFallback = fallback != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(peer,tick,resolving,live,orphaned,panels,flashes) VALUES(?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,peer,action,entity,run_id,reason,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertMigration, _ := s.db.Prepare(`INSERT OR REPLACE INTO migrations(run_id,peer,tick,anchor,anchor_fallback,detections,nodes,edges,findings,duration_ms) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertFinding, _ := s.db.Prepare(`INSERT OR REPLACE INTO findings(run_id,seq,code,name,detail) VALUES(?,?,?,?,?)`)
	insertExport, _ := s.db.Prepare(`INSERT OR REPLACE INTO exports(path,tick,digest,nodes,connections,recorded_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertAudit, insertMigration, insertFinding, insertExport} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	// Idle flush keeps readers from waiting on a half-filled batch.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-idle.C:
			flushIfNeeded()
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			exec(insertTick, t.Peer, int64(t.Tick), t.Resolving, t.Live, t.Orphaned, t.Panels, t.Flashes)

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			if !exec(insertAudit, int64(a.Tick), seq, a.Peer, a.Action, int64(a.Entity), a.RunID, a.Reason, string(raw)) {
				continue
			}
			if m := a.Report; m != nil {
				if !exec(insertMigration, m.RunID, m.Peer, int64(m.Tick), m.Anchor, boolInt(m.AnchorFallback),
					m.Detections, len(m.Nodes), len(m.Edges), len(m.Findings), m.DurationMs) {
					continue
				}
				for i, f := range m.Findings {
					if !exec(insertFinding, m.RunID, i, f.Code, f.Name, f.Detail) {
						break
					}
				}
			}

		case reqExport:
			e := r.exp
			exec(insertExport, e.Path, int64(e.Tick), e.Digest, e.Nodes, e.Connections, e.RecordedAt)
		}
		flushIfNeeded()
	}
}
