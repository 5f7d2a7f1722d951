package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Runner is one peer's handle on the hub. Lookups only see entities that
// have propagated to this peer.
type Runner struct {
	hub  *Hub
	peer PeerID
	name string

	status   atomic.Int32
	running  chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	signals  chan Signal
}

func (r *Runner) LocalPeer() PeerID { return r.peer }
func (r *Runner) Name() string      { return r.name }
func (r *Runner) Status() Status    { return Status(r.status.Load()) }
func (r *Runner) IsRunning() bool   { return r.Status() == StatusRunning }
func (r *Runner) Tick() uint64      { return r.hub.Tick() }

// WaitRunning blocks until the runner is connected, stopped, or ctx is done.
func (r *Runner) WaitRunning(ctx context.Context) error {
	select {
	case <-r.running:
		return nil
	case <-r.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Spawn(spec SpawnSpec) (Entity, error) {
	if !spec.Kind.valid() {
		return Entity{}, ErrBadKind
	}
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.Status() != StatusRunning {
		return Entity{}, ErrNotRunning
	}
	owner := spec.Owner
	if owner == 0 {
		owner = r.peer
	}
	h.nextID++
	rec := &record{
		Entity: Entity{
			ID:        h.nextID,
			Kind:      spec.Kind,
			Authority: owner,
			Spawner:   r.peer,
			Transform: spec.Transform,
			Content:   spec.Content,
			Source:    spec.Source,
			Start:     spec.Start,
			End:       spec.End,
			Follow:    spec.Follow,
			Locked:    spec.Locked,
			SpawnTick: h.tick,
		},
		visibleAt: h.tick + h.cfg.PropagationTicks,
	}
	h.entities[rec.ID] = rec
	return rec.Entity, nil
}

// TryFind resolves a soft reference. It fails for despawned entities and for
// entities that have not yet propagated to this peer.
func (r *Runner) TryFind(id EntityID) (Entity, bool) {
	if !id.Valid() {
		return Entity{}, false
	}
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.entities[id]
	if rec == nil || !h.visibleLocked(rec, r.peer) {
		return Entity{}, false
	}
	return rec.Entity, true
}

// Entities lists every entity visible to this peer, ordered by id.
func (r *Runner) Entities() []Entity {
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entity, 0, len(h.entities))
	for _, rec := range h.entities {
		if h.visibleLocked(rec, r.peer) {
			out = append(out, rec.Entity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Runner) HasAuthority(id EntityID) bool {
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.entities[id]
	return rec != nil && r.Status() == StatusRunning && rec.Authority == r.peer
}

// RequestAuthority queues a request that the hub resolves on its next Step.
// Requests from a runner that is not running are denied immediately.
func (r *Runner) RequestAuthority(id EntityID) *AuthorityRequest {
	req := newAuthorityRequest(id, r.peer)
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.Status() != StatusRunning {
		req.resolve(GrantDenied)
		return req
	}
	if rec := h.entities[id]; rec != nil && rec.Authority == r.peer {
		req.resolve(GrantGranted)
		return req
	}
	h.pendingAuth = append(h.pendingAuth, req)
	return req
}

// Mutate applies fn to the shared fields of id. Without authority it is a
// no-op and returns false. Identity and ownership fields are not writable.
func (r *Runner) Mutate(id EntityID, fn func(*Entity)) bool {
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.entities[id]
	if rec == nil || r.Status() != StatusRunning || rec.Authority != r.peer {
		return false
	}
	next := rec.Entity
	fn(&next)
	next.ID, next.Kind, next.Authority = rec.ID, rec.Kind, rec.Authority
	next.Spawner, next.SpawnTick = rec.Spawner, rec.SpawnTick
	rec.Entity = next
	return true
}

// Despawn removes id for every peer at once. Requires authority.
func (r *Runner) Despawn(id EntityID) bool {
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.entities[id]
	if rec == nil || r.Status() != StatusRunning || rec.Authority != r.peer {
		return false
	}
	delete(h.entities, id)
	return true
}

// Broadcast queues a transient signal for every running peer, this one included.
func (r *Runner) Broadcast(kind SignalKind, target EntityID) error {
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.Status() != StatusRunning {
		return ErrNotRunning
	}
	h.pendingSignals = append(h.pendingSignals, Signal{Kind: kind, Target: target, From: r.peer, Tick: h.tick})
	return nil
}

// Signals is closed when the runner shuts down.
func (r *Runner) Signals() <-chan Signal { return r.signals }

// Shutdown disconnects the peer and releases its authority.
func (r *Runner) Shutdown() {
	r.stopOnce.Do(func() {
		h := r.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		r.status.Store(int32(StatusStopped))
		close(r.stopped)
		h.disconnectLocked(r)
	})
}
