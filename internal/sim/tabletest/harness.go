package tabletest

import (
	"context"
	"testing"
	"time"

	"sharedtable.ai/internal/protocol"
	"sharedtable.ai/internal/sim/migration"
	"sharedtable.ai/internal/sim/panels"
	"sharedtable.ai/internal/sim/scene"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/table"
	"sharedtable.ai/internal/sim/tuning"
	"sharedtable.ai/internal/sim/zones"
)

const (
	ZonesPath = "../../../configs/zones.yaml"
	ScenePath = "../../../configs/scene.yaml"
)

// Harness drives a room of tables through exported APIs only:
//   - Step advances the hub, then every table, by one tick
//   - Gesture queues input for a peer's next step
//   - Audits collects every audit entry written by any table
//
// Every peer's desk is filled from configs/scene.yaml.
type Harness struct {
	T    *testing.T
	Tune tuning.Tuning
	Room *table.Room
	Hub  *session.Hub

	Names   []string
	Handles map[string]map[string]scene.Handle

	dt       time.Duration
	pending  map[string][]table.Gesture
	lastTick map[string]protocol.TickMsg
	audits   *auditSink
}

type auditSink struct{ entries []table.AuditEntry }

func (s *auditSink) WriteAudit(e table.AuditEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

// NewHarness connects names in order, so the first name is peer 1. Every
// peer is Running once NewHarness returns.
func NewHarness(t *testing.T, tune tuning.Tuning, names ...string) *Harness {
	t.Helper()

	zcfg, err := zones.Load(ZonesPath)
	if err != nil {
		t.Fatalf("zones.Load: %v", err)
	}
	cat, err := zones.NewCatalog(zcfg)
	if err != nil {
		t.Fatalf("zones.NewCatalog: %v", err)
	}
	layout, err := scene.LoadFile(ScenePath)
	if err != nil {
		t.Fatalf("scene.LoadFile: %v", err)
	}

	hub := session.NewHub(session.Config{
		PropagationTicks: uint64(tune.PropagationTicks),
		SignalBuffer:     tune.SignalBuffer,
	}, nil)
	h := &Harness{
		T:        t,
		Tune:     tune,
		Room:     table.NewRoom(hub, nil),
		Hub:      hub,
		Names:    names,
		Handles:  map[string]map[string]scene.Handle{},
		dt:       time.Second / time.Duration(tune.TickRateHz),
		pending:  map[string][]table.Gesture{},
		lastTick: map[string]protocol.TickMsg{},
		audits:   &auditSink{},
	}
	for i, name := range names {
		peer := i + 1
		desk, _ := cat.DeskFor(peer)
		local := scene.New()
		handles, err := layout.Build(local, desk.Transform)
		if err != nil {
			t.Fatalf("scene build for %s: %v", name, err)
		}
		h.Handles[name] = handles
		cfg := table.Config{
			TickRateHz:   tune.TickRateHz,
			Volume:       tune.ScanVolume(desk.Transform),
			RotateOffset: tune.RotateOffset,
			Panels:       panels.Config{HoldDuration: tune.HoldDuration(), SpawnOffset: tune.PanelOffset},
			ToolKit:      table.ToolKit{Enabled: tune.ToolKit.Enabled, Side: tune.ToolKit.Side, Lift: tune.ToolKit.Lift},
		}
		tb, err := h.Room.Join(name, cfg, table.Deps{Scene: local, Zones: cat, Audit: []table.AuditSink{h.audits}})
		if err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
		if int(tb.Peer()) != peer {
			t.Fatalf("join %s: peer=%d want %d", name, tb.Peer(), peer)
		}
	}
	h.Step()
	return h
}

func (h *Harness) Table(name string) *table.Table {
	h.T.Helper()
	tb, ok := h.Room.ByName(name)
	if !ok {
		h.T.Fatalf("unknown peer %q", name)
	}
	return tb
}

func (h *Harness) Gesture(name string, kind table.GestureKind, target session.EntityID) {
	h.pending[name] = append(h.pending[name], table.Gesture{Kind: kind, Target: target})
}

// Step advances the hub, then each table in peer order.
func (h *Harness) Step() {
	h.T.Helper()
	h.Hub.Step()
	for _, tb := range h.Room.Tables() {
		name := tb.Name()
		h.lastTick[name] = tb.StepOnce(h.dt, h.pending[name])
		delete(h.pending, name)
	}
}

func (h *Harness) StepN(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// StepFor steps for at least d of table time.
func (h *Harness) StepFor(d time.Duration) {
	h.T.Helper()
	n := int((d + h.dt - 1) / h.dt)
	h.StepN(n)
}

func (h *Harness) LastTick(name string) protocol.TickMsg {
	return h.lastTick[name]
}

func (h *Harness) Migrate(name string) migration.Report {
	h.T.Helper()
	rep, err := h.Table(name).Migrate(context.Background())
	if err != nil {
		h.T.Fatalf("migrate %s: %v", name, err)
	}
	return rep
}

// Replica returns the id migrated for a named desk entity.
func (h *Harness) Replica(rep migration.Report, name string) session.EntityID {
	h.T.Helper()
	for _, m := range append(append([]migration.Migrated(nil), rep.Nodes...), rep.Edges...) {
		if m.Name == name {
			return m.ID
		}
	}
	h.T.Fatalf("no replica named %q in run %s", name, rep.RunID)
	return 0
}

func (h *Harness) Audits() []table.AuditEntry {
	return append([]table.AuditEntry(nil), h.audits.entries...)
}

// AuditCount counts entries with action written by peer. A zero peer matches
// every peer.
func (h *Harness) AuditCount(action string, peer int) int {
	n := 0
	for _, e := range h.audits.entries {
		if e.Action == action && (peer == 0 || e.Peer == peer) {
			n++
		}
	}
	return n
}
