package session

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

type Config struct {
	// PropagationTicks is how many hub steps a spawn takes to become visible
	// to peers other than the spawner.
	PropagationTicks uint64
	// SignalBuffer bounds each runner's signal queue. Extra signals are dropped.
	SignalBuffer int
}

func (c Config) withDefaults() Config {
	if c.SignalBuffer <= 0 {
		c.SignalBuffer = 64
	}
	return c
}

type record struct {
	Entity
	visibleAt uint64
}

// Hub is the in-process shared session: it owns every replicated entity,
// resolves authority requests and fans out signals once per Step.
type Hub struct {
	cfg Config
	log *log.Logger

	mu       sync.Mutex
	tick     uint64
	nextID   EntityID
	nextPeer PeerID
	entities map[EntityID]*record
	runners  map[PeerID]*Runner

	pendingAuth    []*AuthorityRequest
	pendingSignals []Signal
}

func NewHub(cfg Config, logger *log.Logger) *Hub {
	return &Hub{
		cfg:      cfg.withDefaults(),
		log:      logger,
		entities: map[EntityID]*record{},
		runners:  map[PeerID]*Runner{},
	}
}

func (h *Hub) logf(format string, args ...any) {
	if h.log != nil {
		h.log.Printf(format, args...)
	}
}

// Connect registers a new peer. The runner stays Connecting until the next Step.
func (h *Hub) Connect(name string) *Runner {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextPeer++
	r := &Runner{
		hub:     h,
		peer:    h.nextPeer,
		name:    name,
		running: make(chan struct{}),
		stopped: make(chan struct{}),
		signals: make(chan Signal, h.cfg.SignalBuffer),
	}
	h.runners[r.peer] = r
	h.logf("session: peer %d (%s) connecting", r.peer, name)
	return r
}

func (h *Hub) Tick() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tick
}

// Step advances the session by one tick.
func (h *Hub) Step() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tick++

	for _, r := range h.runners {
		if r.Status() == StatusConnecting {
			r.status.Store(int32(StatusRunning))
			close(r.running)
			h.logf("session: peer %d (%s) running", r.peer, r.name)
		}
	}

	reqs := h.pendingAuth
	h.pendingAuth = nil
	for _, req := range reqs {
		g := h.decideLocked(req)
		req.resolve(g)
		if g == GrantDenied {
			h.logf("session: authority on %s denied to peer %d", req.ID, req.Peer)
		}
	}

	sigs := h.pendingSignals
	h.pendingSignals = nil
	for _, sig := range sigs {
		for _, r := range h.runners {
			if r.Status() != StatusRunning {
				continue
			}
			select {
			case r.signals <- sig:
			default:
				h.logf("session: dropping %s signal for peer %d (queue full)", sig.Kind, r.peer)
			}
		}
	}
	return h.tick
}

// Run steps the hub at rateHz until ctx is done.
func (h *Hub) Run(ctx context.Context, rateHz int) error {
	if rateHz <= 0 {
		rateHz = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(rateHz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Step()
		}
	}
}

// Entities returns the authoritative view of every entity, ignoring
// propagation delay.
func (h *Hub) Entities() []Entity {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entity, 0, len(h.entities))
	for _, rec := range h.entities {
		out = append(out, rec.Entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) Peers() []PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PeerID, 0, len(h.runners))
	for id := range h.runners {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (h *Hub) Runner(peer PeerID) (*Runner, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.runners[peer]
	return r, ok
}

func (h *Hub) visibleLocked(rec *record, peer PeerID) bool {
	return rec.Spawner == peer || h.tick >= rec.visibleAt
}

func (h *Hub) disconnectLocked(r *Runner) {
	if _, ok := h.runners[r.peer]; !ok {
		return
	}
	delete(h.runners, r.peer)
	released := 0
	for _, rec := range h.entities {
		if rec.Authority == r.peer {
			rec.Authority = 0
			released++
		}
	}
	keep := h.pendingAuth[:0]
	for _, req := range h.pendingAuth {
		if req.Peer == r.peer {
			req.resolve(GrantDenied)
			continue
		}
		keep = append(keep, req)
	}
	h.pendingAuth = keep
	close(r.signals)
	h.logf("session: peer %d (%s) disconnected, released %d entities", r.peer, r.name, released)
}
