// Package panels keeps at most one live document panel per source token.
// A hold on a token opens its panel, or flashes the panel that is already open.
package panels

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"sharedtable.ai/internal/sim/authority"
	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/session"
)

var (
	ErrUnresolved = errors.New("panels: entity not found")
	ErrNotSource  = errors.New("panels: entity cannot open a panel")
)

// Action is what a hold or close did.
type Action uint8

const (
	ActionNone Action = iota
	ActionSpawned
	ActionFlashed
	ActionPending
	ActionDenied
	ActionClosed
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionSpawned:
		return "SPAWNED"
	case ActionFlashed:
		return "FLASHED"
	case ActionPending:
		return "PENDING"
	case ActionDenied:
		return "DENIED"
	case ActionClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ACTION_%d", uint8(a))
	}
}

type State uint8

const (
	StateNone State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "ACTIVE"
	}
	return "NONE"
}

// Record is one panel lifecycle event.
type Record struct {
	Action Action
	Source session.EntityID
	Panel  session.EntityID
}

// Session is the slice of the session runner panels need.
type Session interface {
	LocalPeer() session.PeerID
	TryFind(id session.EntityID) (session.Entity, bool)
	Spawn(spec session.SpawnSpec) (session.Entity, error)
	Despawn(id session.EntityID) bool
	Broadcast(kind session.SignalKind, target session.EntityID) error
}

// Config tunes the hold gesture and panel placement.
type Config struct {
	HoldDuration time.Duration
	// SpawnOffset places a new panel relative to its token.
	SpawnOffset geom.Vec3
}

func DefaultConfig() Config {
	return Config{HoldDuration: 4 * time.Second, SpawnOffset: geom.V(0, 0.4, 0)}
}

type hold struct {
	elapsed time.Duration
	ticket  *authority.Ticket
	fired   bool
}

// Controller tracks holds and pending authority for one peer. It is not safe
// for concurrent use.
type Controller struct {
	rt   Session
	auth *authority.Model
	cfg  Config
	log  *log.Logger

	holds   map[session.EntityID]*hold
	pending map[session.EntityID]*authority.Ticket
}

func New(rt Session, auth *authority.Model, cfg Config, logger *log.Logger) *Controller {
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = DefaultConfig().HoldDuration
	}
	return &Controller{
		rt:      rt,
		auth:    auth,
		cfg:     cfg,
		log:     logger,
		holds:   map[session.EntityID]*hold{},
		pending: map[session.EntityID]*authority.Ticket{},
	}
}

// OnGrabStart starts the hold timer on src and asks for its authority, which
// opening a panel will need.
func (c *Controller) OnGrabStart(src session.EntityID) {
	c.holds[src] = &hold{ticket: c.auth.Request(src)}
}

// OnGrabEnd cancels the hold. A panel that already opened stays open.
func (c *Controller) OnGrabEnd(src session.EntityID) {
	delete(c.holds, src)
}

// Update advances hold timers by dt and settles authority requests that were
// waiting on the session. It returns the events produced by this call.
func (c *Controller) Update(dt time.Duration) []Record {
	var out []Record
	for _, src := range sortedKeys(c.pending) {
		tk := c.pending[src]
		select {
		case <-tk.Done():
		default:
			continue
		}
		delete(c.pending, src)
		if tk.Status() != authority.Granted {
			out = append(out, Record{Action: ActionDenied, Source: src})
			continue
		}
		rec, err := c.RequestOrFlash(src)
		if err != nil {
			c.logf("panels: %s after grant: %v", src, err)
			continue
		}
		out = append(out, rec)
	}

	for _, src := range sortedKeys(c.holds) {
		h := c.holds[src]
		if h.fired {
			continue
		}
		h.elapsed += dt
		if h.elapsed < c.cfg.HoldDuration {
			continue
		}
		h.fired = true
		rec, err := c.OnHoldComplete(src)
		if err != nil {
			c.logf("panels: hold on %s: %v", src, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// OnHoldComplete opens or flashes src's panel. When opening needs authority
// that has not arrived yet the request is parked and settled by Update.
func (c *Controller) OnHoldComplete(src session.EntityID) (Record, error) {
	rec, err := c.RequestOrFlash(src)
	if !errors.Is(err, authority.ErrDenied) {
		return rec, err
	}
	var tk *authority.Ticket
	if h := c.holds[src]; h != nil && h.ticket != nil && h.ticket.Status() == authority.Pending {
		tk = h.ticket
	} else {
		// A settled grab-time verdict is stale once authority has moved.
		tk = c.auth.Request(src)
	}
	switch tk.Status() {
	case authority.Pending:
		c.pending[src] = tk
		return Record{Action: ActionPending, Source: src}, nil
	case authority.Granted:
		return c.RequestOrFlash(src)
	default:
		return Record{Action: ActionDenied, Source: src}, nil
	}
}

// RequestOrFlash flashes src's panel when it still resolves and otherwise
// spawns a new one. Spawning requires authority on src.
func (c *Controller) RequestOrFlash(src session.EntityID) (Record, error) {
	tok, ok := c.rt.TryFind(src)
	if !ok {
		return Record{}, ErrUnresolved
	}
	if tok.Kind != session.KindToken {
		return Record{}, ErrNotSource
	}
	if tok.ActivePanel.Valid() {
		if _, ok := c.rt.TryFind(tok.ActivePanel); ok {
			if err := c.rt.Broadcast(session.SignalFlash, tok.ActivePanel); err != nil {
				return Record{}, err
			}
			return Record{Action: ActionFlashed, Source: src, Panel: tok.ActivePanel}, nil
		}
	}
	if !c.auth.Has(src) {
		return Record{Action: ActionDenied, Source: src}, authority.ErrDenied
	}
	p, err := c.rt.Spawn(session.SpawnSpec{
		Kind:      session.KindPanel,
		Transform: geom.Transform{Pos: tok.Transform.Pos.Add(c.cfg.SpawnOffset), Rot: tok.Transform.Rot},
		Content:   tok.Content,
		Source:    tok.Source,
		Follow:    src,
	})
	if err != nil {
		return Record{}, err
	}
	if err := c.auth.Write(src, func(e *session.Entity) { e.ActivePanel = p.ID }); err != nil {
		// Authority moved between the check and the write; drop the orphan.
		c.rt.Despawn(p.ID)
		return Record{Action: ActionDenied, Source: src}, err
	}
	return Record{Action: ActionSpawned, Source: src, Panel: p.ID}, nil
}

// ClosePanel despawns panel. The token's reference is left alone and simply
// stops resolving.
func (c *Controller) ClosePanel(panel session.EntityID) (Record, error) {
	p, ok := c.rt.TryFind(panel)
	if !ok || p.Kind != session.KindPanel {
		return Record{}, ErrUnresolved
	}
	if !c.auth.Has(panel) || !c.rt.Despawn(panel) {
		return Record{Action: ActionDenied, Source: p.Follow, Panel: panel}, authority.ErrDenied
	}
	return Record{Action: ActionClosed, Source: p.Follow, Panel: panel}, nil
}

// State is Active while src's panel reference resolves.
func (c *Controller) State(src session.EntityID) State {
	tok, ok := c.rt.TryFind(src)
	if !ok || !tok.ActivePanel.Valid() {
		return StateNone
	}
	if _, ok := c.rt.TryFind(tok.ActivePanel); !ok {
		return StateNone
	}
	return StateActive
}

// Holding reports whether a hold on src is in progress.
func (c *Controller) Holding(src session.EntityID) bool {
	h := c.holds[src]
	return h != nil && !h.fired
}

func (c *Controller) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}

func sortedKeys[V any](m map[session.EntityID]V) []session.EntityID {
	out := make([]session.EntityID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
