// Package authority gates writes to replicated entities on the local peer
// holding authority. Requests are asynchronous and resolved by the session.
package authority

import (
	"context"
	"errors"
	"log"

	"sharedtable.ai/internal/sim/session"
)

type Status = session.Grant

const (
	Pending = session.GrantPending
	Granted = session.GrantGranted
	Denied  = session.GrantDenied
)

var ErrDenied = errors.New("authority: denied")

// Runtime is the slice of the session runner the model needs.
type Runtime interface {
	HasAuthority(id session.EntityID) bool
	RequestAuthority(id session.EntityID) *session.AuthorityRequest
	Mutate(id session.EntityID, fn func(*session.Entity)) bool
}

type Model struct {
	rt  Runtime
	log *log.Logger
}

func New(rt Runtime, logger *log.Logger) *Model {
	return &Model{rt: rt, log: logger}
}

func (m *Model) Has(id session.EntityID) bool { return m.rt.HasAuthority(id) }

// Request starts (or short-circuits) an authority request for id.
func (m *Model) Request(id session.EntityID) *Ticket {
	return &Ticket{req: m.rt.RequestAuthority(id)}
}

// Write applies fn only when the local peer holds authority. A write without
// authority changes nothing and reports ErrDenied so the caller can request first.
func (m *Model) Write(id session.EntityID, fn func(*session.Entity)) error {
	if !m.rt.HasAuthority(id) {
		return ErrDenied
	}
	if !m.rt.Mutate(id, fn) {
		return ErrDenied
	}
	return nil
}

// Acquire requests authority and waits for the verdict.
func (m *Model) Acquire(ctx context.Context, id session.EntityID) error {
	if m.Has(id) {
		return nil
	}
	st, err := m.Request(id).Wait(ctx)
	if err != nil {
		return err
	}
	if st != Granted {
		if m.log != nil {
			m.log.Printf("authority: %s denied", id)
		}
		return ErrDenied
	}
	return nil
}

// Ticket tracks one outstanding authority request.
type Ticket struct {
	req *session.AuthorityRequest
}

func (t *Ticket) Status() Status        { return t.req.Status() }
func (t *Ticket) Done() <-chan struct{} { return t.req.Done() }

func (t *Ticket) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.req.Done():
		return t.req.Status(), nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}
