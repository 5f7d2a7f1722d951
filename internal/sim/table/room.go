package table

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"sharedtable.ai/internal/sim/session"
)

// Room is the registry of every table sharing one session hub. Lookups go
// through the room, never through package state.
type Room struct {
	hub *session.Hub
	log *log.Logger

	mu     sync.RWMutex
	byPeer map[session.PeerID]*Table
	byName map[string]*Table
}

func NewRoom(hub *session.Hub, logger *log.Logger) *Room {
	return &Room{
		hub:    hub,
		log:    logger,
		byPeer: map[session.PeerID]*Table{},
		byName: map[string]*Table{},
	}
}

func (r *Room) Hub() *session.Hub { return r.hub }

// Join connects name to the hub and builds its table. deps.Runner is
// replaced by the new connection.
func (r *Room) Join(name string, cfg Config, deps Deps) (*Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return nil, fmt.Errorf("room: %q already joined", name)
	}
	deps.Runner = r.hub.Connect(name)
	t, err := New(cfg, deps)
	if err != nil {
		deps.Runner.Shutdown()
		return nil, err
	}
	r.byPeer[t.Peer()] = t
	r.byName[name] = t
	if r.log != nil {
		r.log.Printf("room: %s joined as peer %d", name, t.Peer())
	}
	return t, nil
}

// Leave disconnects the peer and stops its table.
func (r *Room) Leave(peer session.PeerID) bool {
	r.mu.Lock()
	t := r.byPeer[peer]
	if t != nil {
		delete(r.byPeer, peer)
		delete(r.byName, t.Name())
	}
	r.mu.Unlock()
	if t == nil {
		return false
	}
	t.Runner().Shutdown()
	t.Stop()
	return true
}

func (r *Room) Table(peer session.PeerID) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byPeer[peer]
	return t, ok
}

func (r *Room) ByName(name string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Lookup accepts either a peer id or a peer name.
func (r *Room) Lookup(ref string) (*Table, bool) {
	if n, err := strconv.Atoi(ref); err == nil {
		return r.Table(session.PeerID(n))
	}
	return r.ByName(ref)
}

// Tables returns every table ordered by peer id.
func (r *Room) Tables() []*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Table, 0, len(r.byPeer))
	for _, t := range r.byPeer {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer() < out[j].Peer() })
	return out
}

// Run drives the hub and every table joined so far until ctx is done or one
// of them fails.
func (r *Room) Run(ctx context.Context, rateHz int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.hub.Run(ctx, rateHz) })
	for _, t := range r.Tables() {
		t := t
		g.Go(func() error { return t.Run(ctx) })
	}
	return g.Wait()
}
