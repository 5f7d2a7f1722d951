package session

import (
	"fmt"
	"sync"
)

type Grant int32

const (
	GrantPending Grant = iota
	GrantGranted
	GrantDenied
)

func (g Grant) String() string {
	switch g {
	case GrantPending:
		return "PENDING"
	case GrantGranted:
		return "GRANTED"
	case GrantDenied:
		return "DENIED"
	default:
		return fmt.Sprintf("GRANT_%d", int32(g))
	}
}

// AuthorityRequest is resolved by the hub on its next step.
type AuthorityRequest struct {
	ID   EntityID
	Peer PeerID

	mu     sync.Mutex
	status Grant
	done   chan struct{}
}

func newAuthorityRequest(id EntityID, peer PeerID) *AuthorityRequest {
	return &AuthorityRequest{ID: id, Peer: peer, done: make(chan struct{})}
}

func (r *AuthorityRequest) Status() Grant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed once the request is granted or denied.
func (r *AuthorityRequest) Done() <-chan struct{} { return r.done }

func (r *AuthorityRequest) resolve(g Grant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != GrantPending {
		return
	}
	r.status = g
	close(r.done)
}

// decide applies the hub's ownership rules. Caller holds h.mu.
func (h *Hub) decideLocked(req *AuthorityRequest) Grant {
	rec := h.entities[req.ID]
	if rec == nil {
		return GrantDenied
	}
	requester := h.runners[req.Peer]
	if requester == nil || requester.Status() != StatusRunning {
		return GrantDenied
	}
	if rec.Authority == req.Peer {
		return GrantGranted
	}
	if rec.Locked && rec.Authority != 0 {
		if holder := h.runners[rec.Authority]; holder != nil && holder.Status() == StatusRunning {
			return GrantDenied
		}
	}
	rec.Authority = req.Peer
	return GrantGranted
}
