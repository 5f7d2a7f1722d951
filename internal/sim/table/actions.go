package table

import (
	"context"
	"fmt"

	"sharedtable.ai/internal/sim/authority"
	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/migration"
	"sharedtable.ai/internal/sim/session"
)

// Migrate promotes the desk volume into the session. Call it from the loop
// goroutine or while the loop is not running; RequestMigrate is the
// goroutine-safe form.
func (t *Table) Migrate(ctx context.Context) (migration.Report, error) {
	rep, err := t.migr.Migrate(ctx)
	if err != nil {
		t.logf("table: migrate peer=%d: %v", t.rt.LocalPeer(), err)
		return rep, err
	}
	t.logf("table: migrate peer=%d run=%s nodes=%d edges=%d findings=%d", rep.Peer, rep.RunID, len(rep.Nodes), len(rep.Edges), len(rep.Findings))
	return rep, nil
}

func (t *Table) RequestMigrate(ctx context.Context) (migration.Report, error) {
	select {
	case <-t.stop:
		return migration.Report{}, ErrStopped
	default:
	}
	req := migrateRequest{Ctx: ctx, Resp: make(chan MigrateResult, 1)}
	select {
	case t.migrateReq <- req:
	case <-ctx.Done():
		return migration.Report{}, ctx.Err()
	case <-t.stop:
		return migration.Report{}, ErrStopped
	default:
		return migration.Report{}, ErrBusy
	}
	select {
	case res := <-req.Resp:
		return res.Report, res.Err
	case <-ctx.Done():
		return migration.Report{}, ctx.Err()
	case <-t.stop:
		return migration.Report{}, ErrStopped
	}
}

// Teleport migrates the desk, then moves the avatar to this peer's spawn
// point and hands out the tool kit the first time. A failed migration leaves
// the avatar where it was.
func (t *Table) Teleport(ctx context.Context) error {
	if !t.rt.IsRunning() {
		return ErrNotConnected
	}
	if _, err := t.Migrate(ctx); err != nil {
		return err
	}
	peer := int(t.rt.LocalPeer())
	spawn, ok := t.zones.SpawnFor(peer)
	if !ok {
		t.logf("table: peer=%d has no spawn point; using %s", peer, spawn.ID)
	}
	dest := geom.Transform{
		Pos: spawn.Transform.Pos.Add(geom.V(0, 0.05, 0)),
		Rot: geom.YawDeg(spawn.Transform.Rot.Yaw()),
	}
	t.mu.Lock()
	t.avatar = dest
	t.mu.Unlock()
	t.auditf(AuditEntry{Action: AuditTeleport, Reason: spawn.ID})

	if t.cfg.ToolKit.Enabled && !t.toolKit {
		if err := t.SpawnToolKit(); err != nil {
			t.logf("table: tool kit for peer=%d: %v", peer, err)
		}
	}
	return nil
}

func (t *Table) RequestTeleport(ctx context.Context) error {
	select {
	case <-t.stop:
		return ErrStopped
	default:
	}
	req := teleportRequest{Ctx: ctx, Resp: make(chan error, 1)}
	select {
	case t.teleportReq <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stop:
		return ErrStopped
	default:
		return ErrBusy
	}
	select {
	case err := <-req.Resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stop:
		return ErrStopped
	}
}

// SpawnToolKit places a pen on the avatar's right and a note block on its left.
func (t *Table) SpawnToolKit() error {
	av := t.Avatar()
	right := av.Rot.Right().Scale(t.cfg.ToolKit.Side)
	up := geom.V(0, t.cfg.ToolKit.Lift, 0)
	tools := []struct {
		name string
		pos  geom.Vec3
	}{
		{"pen", av.Pos.Add(right).Add(up)},
		{"note_block", av.Pos.Sub(right).Add(up)},
	}
	for _, tool := range tools {
		e, err := t.rt.Spawn(session.SpawnSpec{
			Kind:      session.KindTool,
			Transform: geom.Transform{Pos: tool.pos, Rot: av.Rot},
			Content:   tool.name,
		})
		if err != nil {
			return fmt.Errorf("spawn %s: %w", tool.name, err)
		}
		t.auditf(AuditEntry{Action: AuditToolKit, Entity: entityID(e.ID), Reason: tool.name})
	}
	t.toolKit = true
	return nil
}

// Discard despawns a note or token this peer has authority over.
func (t *Table) Discard(id session.EntityID) error {
	e, ok := t.rt.TryFind(id)
	if !ok {
		return ErrUnresolved
	}
	if e.Kind != session.KindNote && e.Kind != session.KindToken {
		return ErrNotDiscardable
	}
	if !t.auth.Has(id) || !t.rt.Despawn(id) {
		t.auditf(AuditEntry{Action: AuditDenied, Entity: entityID(id), Reason: AuditDiscard})
		return fmt.Errorf("discard %s: %w", id, authority.ErrDenied)
	}
	t.auditf(AuditEntry{Action: AuditDiscard, Entity: entityID(id)})
	return nil
}
