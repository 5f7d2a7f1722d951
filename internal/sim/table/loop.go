package table

import (
	"context"
	"encoding/json"
	"time"

	"sharedtable.ai/internal/codec"
	"sharedtable.ai/internal/protocol"
	"sharedtable.ai/internal/sim/edgesync"
	"sharedtable.ai/internal/sim/panels"
	"sharedtable.ai/internal/sim/session"
)

type observerClient struct {
	encoding string
	tickOut  chan []byte
	dataOut  chan []byte
}

// Run drives the table until ctx is done or Stop is called. Gestures that
// arrive between ticks are applied at the next tick boundary; migrations and
// teleports run as soon as they are received. A table is not restartable.
func (t *Table) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(t.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer t.Stop()

	var pending []Gesture
	lastStep := t.now()

	for {
		select {
		case <-ctx.Done():
			t.closeObservers()
			return ctx.Err()
		case <-t.stop:
			t.closeObservers()
			return nil
		case req := <-t.observerJoin:
			t.handleObserverJoin(req)
		case id := <-t.observerLeave:
			t.handleObserverLeave(id)
		case g := <-t.gestures:
			pending = append(pending, g)
		case req := <-t.migrateReq:
			if err := req.Ctx.Err(); err != nil {
				req.Resp <- MigrateResult{Err: err}
				continue
			}
			rep, err := t.Migrate(ctx)
			req.Resp <- MigrateResult{Report: rep, Err: err}
		case req := <-t.teleportReq:
			if err := req.Ctx.Err(); err != nil {
				req.Resp <- err
				continue
			}
			req.Resp <- t.Teleport(ctx)
		case <-ticker.C:
			now := t.now()
			t.step(now.Sub(lastStep), pending)
			lastStep = now
			pending = pending[:0]
		}
	}
}

// StepOnce runs a single step with the given gestures. It must not be called
// while Run is active.
func (t *Table) StepOnce(dt time.Duration, gestures []Gesture) protocol.TickMsg {
	return t.step(dt, gestures)
}

func (t *Table) step(dt time.Duration, gestures []Gesture) protocol.TickMsg {
	nowTick := t.rt.Tick()
	t.drainObservers()

	for _, g := range gestures {
		t.applyGesture(g)
	}

	var flashes []protocol.FlashMsg
	for drained := false; !drained; {
		select {
		case sig, ok := <-t.rt.Signals():
			if !ok {
				drained = true
				break
			}
			if sig.Kind == session.SignalFlash {
				flashes = append(flashes, protocol.FlashMsg{
					Type:            protocol.TypeFlash,
					ProtocolVersion: protocol.Version,
					Tick:            sig.Tick,
					Panel:           entityID(sig.Target),
					From:            int(sig.From),
				})
			}
		default:
			drained = true
		}
	}

	for _, rec := range t.panels.Update(dt) {
		t.auditPanel(rec, "")
	}

	t.edges.Tick()
	msg := t.buildTick(nowTick)

	resolving, live, orphaned := t.edges.Counts()
	active := 0
	for _, p := range msg.Panels {
		if p.State == panels.StateActive.String() {
			active++
		}
	}
	entry := TickLogEntry{
		Tick:      nowTick,
		Peer:      int(t.rt.LocalPeer()),
		Resolving: resolving,
		Live:      live,
		Orphaned:  orphaned,
		Panels:    active,
		Flashes:   len(flashes),
		Lookups:   t.edges.Lookups(),
	}
	for _, s := range t.ticks {
		if err := s.WriteTick(entry); err != nil {
			t.logf("table: tick write failed: %v", err)
		}
	}

	t.publish(msg, flashes)

	t.mu.Lock()
	t.summary = entry
	t.mu.Unlock()
	return msg
}

func (t *Table) applyGesture(g Gesture) {
	switch g.Kind {
	case GestureGrabStart:
		t.panels.OnGrabStart(g.Target)
	case GestureGrabEnd:
		t.panels.OnGrabEnd(g.Target)
	case GestureClosePanel:
		rec, err := t.panels.ClosePanel(g.Target)
		if err != nil {
			t.logf("table: close %s: %v", g.Target, err)
		}
		t.auditPanel(rec, errReason(err))
	case GestureDiscard:
		if err := t.Discard(g.Target); err != nil {
			t.logf("table: discard %s: %v", g.Target, err)
		}
	}
}

func (t *Table) auditPanel(rec panels.Record, reason string) {
	var action string
	target := rec.Panel
	switch rec.Action {
	case panels.ActionSpawned:
		action = AuditPanelSpawn
	case panels.ActionFlashed:
		action = AuditPanelFlash
	case panels.ActionClosed:
		action = AuditPanelClose
	case panels.ActionDenied:
		action = AuditDenied
		if !target.Valid() {
			target = rec.Source
		}
	default:
		return
	}
	t.auditf(AuditEntry{Action: action, Entity: entityID(target), Reason: reason})
}

func (t *Table) buildTick(nowTick uint64) protocol.TickMsg {
	msg := protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		Peer:            int(t.rt.LocalPeer()),
		Color:           t.zones.ColorFor(int(t.rt.LocalPeer())).Hex(),
		Edges:           []protocol.EdgeState{},
		Panels:          []protocol.PanelState{},
	}
	for _, rs := range t.edges.States() {
		es := protocol.EdgeState{ID: entityID(rs.Edge), State: rs.State.String(), Visible: rs.Visible}
		if rs.State == edgesync.Live {
			a, b := rs.Start.Array(), rs.End.Array()
			es.Start, es.End = &a, &b
		}
		if rs.Handle != nil {
			es.Handle = &protocol.HandleState{Pos: rs.Handle.Pos.Array(), Visible: rs.Handle.Visible}
		}
		msg.Edges = append(msg.Edges, es)
	}
	for _, e := range t.rt.Entities() {
		if e.Kind != session.KindToken {
			continue
		}
		ps := protocol.PanelState{Source: entityID(e.ID), State: t.panels.State(e.ID).String()}
		if ps.State == panels.StateActive.String() {
			ps.Panel = entityID(e.ActivePanel)
		}
		msg.Panels = append(msg.Panels, ps)
	}
	return msg
}

func (t *Table) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil || req.DataOut == nil {
		return
	}
	if old := t.observers[req.SessionID]; old != nil {
		close(old.tickOut)
		close(old.dataOut)
	}
	t.observers[req.SessionID] = &observerClient{encoding: req.Encoding, tickOut: req.TickOut, dataOut: req.DataOut}
}

func (t *Table) handleObserverLeave(id string) {
	c := t.observers[id]
	if c == nil {
		return
	}
	delete(t.observers, id)
	close(c.tickOut)
	close(c.dataOut)
}

func (t *Table) drainObservers() {
	for {
		select {
		case req := <-t.observerJoin:
			t.handleObserverJoin(req)
		case id := <-t.observerLeave:
			t.handleObserverLeave(id)
		default:
			return
		}
	}
}

func (t *Table) closeObservers() {
	for id := range t.observers {
		t.handleObserverLeave(id)
	}
}

// ObserverCount is only safe to call from the loop goroutine or in tests.
func (t *Table) ObserverCount() int { return len(t.observers) }

func (t *Table) publish(msg protocol.TickMsg, flashes []protocol.FlashMsg) {
	if len(t.observers) == 0 {
		return
	}
	frames := map[string][]byte{}
	encode := func(enc string, v any) []byte {
		var b []byte
		var err error
		if enc == protocol.EncodingCBOR {
			b, err = codec.Marshal(v)
		} else {
			b, err = json.Marshal(v)
		}
		if err != nil {
			t.logf("table: encode %T: %v", v, err)
			return nil
		}
		return b
	}
	for _, c := range t.observers {
		b, ok := frames[c.encoding]
		if !ok {
			b = encode(c.encoding, msg)
			frames[c.encoding] = b
		}
		if b != nil {
			sendLatest(c.tickOut, b)
		}
		for _, f := range flashes {
			fb := encode(c.encoding, f)
			if fb == nil {
				continue
			}
			select {
			case c.dataOut <- fb:
			default:
				// Drop when the observer is behind.
			}
		}
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
