// Package table runs one peer's view of the shared session: its desk scene,
// the migration engine, edge rendering state and document panels. A Table is
// driven by a single loop goroutine in the same way for every peer.
package table

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"sharedtable.ai/internal/sim/authority"
	"sharedtable.ai/internal/sim/edgesync"
	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/migration"
	"sharedtable.ai/internal/sim/panels"
	"sharedtable.ai/internal/sim/scene"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/zones"
)

type ToolKit struct {
	Enabled bool
	// Side is the sideways distance of each tool from the avatar.
	Side float64
	Lift float64
}

type Config struct {
	TickRateHz   int
	Volume       geom.Box
	RotateOffset bool
	Panels       panels.Config
	ToolKit      ToolKit
}

type Deps struct {
	Runner *session.Runner
	Scene  *scene.Scene
	Zones  *zones.Catalog
	Logger *log.Logger
	Audit  []AuditSink
	Ticks  []TickSink
	Now    func() time.Time
}

type MigrateResult struct {
	Report migration.Report
	Err    error
}

// Requests carry the caller's context; the loop skips one whose caller gave up.
type migrateRequest struct {
	Ctx  context.Context
	Resp chan MigrateResult
}

type teleportRequest struct {
	Ctx  context.Context
	Resp chan error
}

type ObserverJoinRequest struct {
	SessionID string
	Encoding  string
	TickOut   chan []byte
	DataOut   chan []byte
}

type Table struct {
	cfg   Config
	rt    *session.Runner
	scene *scene.Scene
	zones *zones.Catalog
	log   *log.Logger
	now   func() time.Time

	audit []AuditSink
	ticks []TickSink

	auth    *authority.Model
	migr    *migration.Engine
	edges   *edgesync.Synchronizer
	panels  *panels.Controller
	toolKit bool

	mu      sync.Mutex
	avatar  geom.Transform
	summary TickLogEntry

	migrateReq    chan migrateRequest
	teleportReq   chan teleportRequest
	gestures      chan Gesture
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once

	observers map[string]*observerClient
}

func New(cfg Config, deps Deps) (*Table, error) {
	if deps.Runner == nil {
		return nil, errors.New("table: runner is required")
	}
	if deps.Zones == nil {
		return nil, errors.New("table: zone catalog is required")
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 30
	}
	if deps.Scene == nil {
		deps.Scene = scene.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	t := &Table{
		cfg:           cfg,
		rt:            deps.Runner,
		scene:         deps.Scene,
		zones:         deps.Zones,
		log:           deps.Logger,
		now:           deps.Now,
		audit:         deps.Audit,
		ticks:         deps.Ticks,
		migrateReq:    make(chan migrateRequest, 4),
		teleportReq:   make(chan teleportRequest, 4),
		gestures:      make(chan Gesture, 256),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	if desk, ok := t.zones.DeskFor(int(t.rt.LocalPeer())); ok {
		t.avatar = desk.Transform
	} else {
		t.avatar = t.zones.Default().Transform
	}
	t.auth = authority.New(t.rt, t.log)
	t.edges = edgesync.New(t.rt, t.log)
	t.panels = panels.New(t.rt, t.auth, cfg.Panels, t.log)
	t.migr = migration.New(migration.Options{
		Local:    t.scene,
		Session:  t.rt,
		Anchors:  t.zones,
		Recorder: t,
		Config:   migration.Config{Volume: cfg.Volume, RotateOffset: cfg.RotateOffset},
		Logger:   t.log,
		Now:      t.now,
	})
	return t, nil
}

func (t *Table) logf(format string, args ...any) {
	if t.log != nil {
		t.log.Printf(format, args...)
	}
}

func (t *Table) Runner() *session.Runner       { return t.rt }
func (t *Table) Scene() *scene.Scene           { return t.scene }
func (t *Table) Peer() session.PeerID          { return t.rt.LocalPeer() }
func (t *Table) Name() string                  { return t.rt.Name() }
func (t *Table) Panels() *panels.Controller    { return t.panels }
func (t *Table) Edges() *edgesync.Synchronizer { return t.edges }
func (t *Table) Authority() *authority.Model   { return t.auth }

func (t *Table) Gestures() chan<- Gesture                 { return t.gestures }
func (t *Table) ObserverJoin() chan<- ObserverJoinRequest { return t.observerJoin }
func (t *Table) ObserverLeave() chan<- string             { return t.observerLeave }

// Avatar is the local avatar's transform.
func (t *Table) Avatar() geom.Transform {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avatar
}

// LastTick is the session tick of the most recent step.
func (t *Table) LastTick() uint64 { return t.Summary().Tick }

// Summary describes the most recent step. It is safe to call from any goroutine.
func (t *Table) Summary() TickLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// Entities is everything this peer can currently see.
func (t *Table) Entities() []session.Entity { return t.rt.Entities() }

func (t *Table) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}
