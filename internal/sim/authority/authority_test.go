package authority

import (
	"context"
	"errors"
	"testing"
	"time"

	"sharedtable.ai/internal/sim/session"
)

func setup(t *testing.T) (*session.Hub, *session.Runner, *session.Runner) {
	t.Helper()
	h := session.NewHub(session.Config{}, nil)
	a := h.Connect("a")
	b := h.Connect("b")
	h.Step()
	return h, a, b
}

func TestWrite_WithoutAuthorityIsNoop(t *testing.T) {
	_, a, b := setup(t)
	e, err := a.Spawn(session.SpawnSpec{Kind: session.KindNote, Content: "x"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	mb := New(b, nil)
	if err := mb.Write(e.ID, func(x *session.Entity) { x.Content = "y" }); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	got, _ := a.TryFind(e.ID)
	if got.Content != "x" {
		t.Fatalf("content mutated without authority: %q", got.Content)
	}
	ma := New(a, nil)
	if err := ma.Write(e.ID, func(x *session.Entity) { x.Content = "y" }); err != nil {
		t.Fatalf("holder write: %v", err)
	}
}

func TestRequest_PendingThenGranted(t *testing.T) {
	h, a, b := setup(t)
	e, _ := a.Spawn(session.SpawnSpec{Kind: session.KindToken})
	mb := New(b, nil)
	tk := mb.Request(e.ID)
	if tk.Status() != Pending {
		t.Fatalf("expected pending, got %s", tk.Status())
	}
	h.Step()
	st, err := tk.Wait(context.Background())
	if err != nil || st != Granted {
		t.Fatalf("wait: %s %v", st, err)
	}
	if !mb.Has(e.ID) {
		t.Fatalf("b should hold authority")
	}
}

func TestAcquire_WithRunningHub(t *testing.T) {
	h, a, b := setup(t)
	e, _ := a.Spawn(session.SpawnSpec{Kind: session.KindNote})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go h.Run(ctx, 200)
	if err := New(b, nil).Acquire(ctx, e.ID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}

func TestAcquire_DeniedOnLocked(t *testing.T) {
	h, a, b := setup(t)
	e, _ := a.Spawn(session.SpawnSpec{Kind: session.KindPanel, Locked: true})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go h.Run(ctx, 200)
	if err := New(b, nil).Acquire(ctx, e.ID); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}
