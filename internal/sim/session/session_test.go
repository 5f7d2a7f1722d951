package session

import (
	"context"
	"testing"
	"time"

	"sharedtable.ai/internal/sim/geom"
)

func connectedPair(t *testing.T, cfg Config) (*Hub, *Runner, *Runner) {
	t.Helper()
	h := NewHub(cfg, nil)
	a := h.Connect("a")
	b := h.Connect("b")
	if a.IsRunning() || b.IsRunning() {
		t.Fatalf("runners should start connecting")
	}
	h.Step()
	if !a.IsRunning() || !b.IsRunning() {
		t.Fatalf("runners should be running after one step")
	}
	return h, a, b
}

func TestSpawn_RequiresRunning(t *testing.T) {
	h := NewHub(Config{}, nil)
	r := h.Connect("solo")
	if _, err := r.Spawn(SpawnSpec{Kind: KindNote}); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	h.Step()
	e, err := r.Spawn(SpawnSpec{Kind: KindNote, Content: "hi"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !e.ID.Valid() || e.Authority != r.LocalPeer() || e.Spawner != r.LocalPeer() {
		t.Fatalf("unexpected entity: %+v", e)
	}
	if _, err := r.Spawn(SpawnSpec{Kind: Kind(99)}); err != ErrBadKind {
		t.Fatalf("expected ErrBadKind, got %v", err)
	}
}

func TestSpawn_PropagatesToOtherPeers(t *testing.T) {
	h, a, b := connectedPair(t, Config{PropagationTicks: 2})
	e, err := a.Spawn(SpawnSpec{Kind: KindNote, Transform: geom.At(geom.V(1, 0, 0))})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, ok := a.TryFind(e.ID); !ok {
		t.Fatalf("spawner should see its entity immediately")
	}
	if _, ok := b.TryFind(e.ID); ok {
		t.Fatalf("other peer should not see the entity yet")
	}
	h.Step()
	if _, ok := b.TryFind(e.ID); ok {
		t.Fatalf("still propagating after one step")
	}
	h.Step()
	if got, ok := b.TryFind(e.ID); !ok || got.Transform.Pos != geom.V(1, 0, 0) {
		t.Fatalf("expected propagated entity, got %+v ok=%v", got, ok)
	}
	if n := len(b.Entities()); n != 1 {
		t.Fatalf("entities: %d", n)
	}
}

func TestMutateAndDespawn_AreAuthorityGated(t *testing.T) {
	_, a, b := connectedPair(t, Config{})
	e, _ := a.Spawn(SpawnSpec{Kind: KindToken, Content: "doc"})
	if b.Mutate(e.ID, func(x *Entity) { x.Content = "stolen" }) {
		t.Fatalf("mutate without authority should be a no-op")
	}
	if b.Despawn(e.ID) {
		t.Fatalf("despawn without authority should be a no-op")
	}
	got, _ := a.TryFind(e.ID)
	if got.Content != "doc" {
		t.Fatalf("content changed: %q", got.Content)
	}
	if !a.Mutate(e.ID, func(x *Entity) { x.Content = "doc2"; x.Authority = b.LocalPeer() }) {
		t.Fatalf("holder mutate failed")
	}
	got, _ = a.TryFind(e.ID)
	if got.Content != "doc2" || got.Authority != a.LocalPeer() {
		t.Fatalf("unexpected state after mutate: %+v", got)
	}
	if !a.Despawn(e.ID) {
		t.Fatalf("holder despawn failed")
	}
	if _, ok := b.TryFind(e.ID); ok {
		t.Fatalf("despawn should be visible to every peer")
	}
}

func TestRequestAuthority_ResolvesOnStep(t *testing.T) {
	h, a, b := connectedPair(t, Config{})
	e, _ := a.Spawn(SpawnSpec{Kind: KindNote})
	req := b.RequestAuthority(e.ID)
	if req.Status() != GrantPending {
		t.Fatalf("expected pending, got %s", req.Status())
	}
	h.Step()
	select {
	case <-req.Done():
	default:
		t.Fatalf("request should be resolved after step")
	}
	if req.Status() != GrantGranted || !b.HasAuthority(e.ID) || a.HasAuthority(e.ID) {
		t.Fatalf("authority should have moved to b")
	}
	if again := b.RequestAuthority(e.ID); again.Status() != GrantGranted {
		t.Fatalf("holder request should be granted at once")
	}
}

func TestRequestAuthority_LockedAndMissing(t *testing.T) {
	h, a, b := connectedPair(t, Config{})
	e, _ := a.Spawn(SpawnSpec{Kind: KindPanel, Locked: true})
	locked := b.RequestAuthority(e.ID)
	missing := b.RequestAuthority(EntityID(999))
	h.Step()
	if locked.Status() != GrantDenied {
		t.Fatalf("locked entity: %s", locked.Status())
	}
	if missing.Status() != GrantDenied {
		t.Fatalf("missing entity: %s", missing.Status())
	}

	a.Shutdown()
	retry := b.RequestAuthority(e.ID)
	h.Step()
	if retry.Status() != GrantGranted {
		t.Fatalf("lock should lapse with its holder: %s", retry.Status())
	}
}

func TestShutdown_ReleasesAndDeniesPending(t *testing.T) {
	h, a, b := connectedPair(t, Config{})
	e, _ := b.Spawn(SpawnSpec{Kind: KindNote})
	req := a.RequestAuthority(e.ID)
	a.Shutdown()
	if req.Status() != GrantDenied {
		t.Fatalf("pending request should be denied on shutdown")
	}
	if a.IsRunning() {
		t.Fatalf("runner should be stopped")
	}
	if late := a.RequestAuthority(e.ID); late.Status() != GrantDenied {
		t.Fatalf("stopped runner request: %s", late.Status())
	}
	if err := a.Broadcast(SignalFlash, e.ID); err != ErrNotRunning {
		t.Fatalf("broadcast after shutdown: %v", err)
	}
	if _, ok := <-a.Signals(); ok {
		t.Fatalf("signals should be closed")
	}
	h.Step()
	if got := h.Peers(); len(got) != 1 || got[0] != b.LocalPeer() {
		t.Fatalf("peers: %v", got)
	}
}

func TestBroadcast_DeliveredToAllRunningPeers(t *testing.T) {
	h, a, b := connectedPair(t, Config{})
	if err := a.Broadcast(SignalFlash, EntityID(7)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	h.Step()
	for _, r := range []*Runner{a, b} {
		select {
		case sig := <-r.Signals():
			if sig.Kind != SignalFlash || sig.Target != 7 || sig.From != a.LocalPeer() {
				t.Fatalf("peer %d got %+v", r.LocalPeer(), sig)
			}
		default:
			t.Fatalf("peer %d got no signal", r.LocalPeer())
		}
	}
}

func TestWaitRunning(t *testing.T) {
	h := NewHub(Config{}, nil)
	r := h.Connect("late")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.WaitRunning(ctx); err == nil {
		t.Fatalf("expected timeout before first step")
	}
	h.Step()
	if err := r.WaitRunning(context.Background()); err != nil {
		t.Fatalf("WaitRunning: %v", err)
	}

	gone := h.Connect("gone")
	gone.Shutdown()
	if err := gone.WaitRunning(context.Background()); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}
