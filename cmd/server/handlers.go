package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sharedtable.ai/internal/persistence/export"
	"sharedtable.ai/internal/protocol"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/table"
)

// adminAPI serves the local-only admin endpoints. idx may be nil.
type adminAPI struct {
	room    *table.Room
	idx     runtimeIndex
	dataDir string
	log     *log.Logger
	now     func() time.Time
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/v1/peers/{peer}/migrate", a.loopbackOnly(a.handleMigrate))
	mux.HandleFunc("POST /admin/v1/peers/{peer}/gesture", a.loopbackOnly(a.handleGesture))
	mux.HandleFunc("POST /admin/v1/peers/{peer}/teleport", a.loopbackOnly(a.handleTeleport))
	mux.HandleFunc("POST /admin/v1/export", a.loopbackOnly(a.handleExport))
	mux.HandleFunc("GET /admin/v1/migrations", a.loopbackOnly(a.handleMigrations))
	mux.HandleFunc("GET /admin/v1/state", a.loopbackOnly(a.handleState))
}

func (a *adminAPI) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *adminAPI) logf(format string, args ...any) {
	if a.log != nil {
		a.log.Printf(format, args...)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	if !protocol.IsKnownCode(code) {
		code = protocol.ErrInternal
	}
	writeJSON(rw, status, protocol.NewError(code, msg))
}

// peer resolves the {peer} path value and rejects disconnected peers.
func (a *adminAPI) peer(rw http.ResponseWriter, r *http.Request) (*table.Table, bool) {
	tb, ok := a.room.Lookup(r.PathValue("peer"))
	if !ok {
		writeError(rw, http.StatusNotFound, protocol.ErrPeerNotFound, "unknown peer")
		return nil, false
	}
	if !tb.Runner().IsRunning() {
		writeError(rw, http.StatusConflict, protocol.ErrNotConnected, fmt.Sprintf("peer %d is %s", tb.Peer(), tb.Runner().Status()))
		return nil, false
	}
	return tb, true
}

func (a *adminAPI) handleMigrate(rw http.ResponseWriter, r *http.Request) {
	tb, ok := a.peer(rw, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rep, err := tb.RequestMigrate(ctx)
	if err != nil {
		a.writeRequestError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, table.ReportMessage(rep))
}

func (a *adminAPI) handleTeleport(rw http.ResponseWriter, r *http.Request) {
	tb, ok := a.peer(rw, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := tb.RequestTeleport(ctx); err != nil {
		a.writeRequestError(rw, err)
		return
	}
	av := tb.Avatar()
	writeJSON(rw, http.StatusOK, map[string]any{
		"peer":    int(tb.Peer()),
		"pos":     av.Pos.Array(),
		"yaw_deg": av.Rot.Yaw(),
	})
}

type gestureReq struct {
	Kind   string `json:"kind"`
	Target uint32 `json:"target"`
}

func (a *adminAPI) handleGesture(rw http.ResponseWriter, r *http.Request) {
	tb, ok := a.peer(rw, r)
	if !ok {
		return
	}
	var req gestureReq
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096)).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad json")
		return
	}
	kind, err := table.ParseGestureKind(req.Kind)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	if req.Target == 0 {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing target")
		return
	}
	select {
	case tb.Gestures() <- table.Gesture{Kind: kind, Target: session.EntityID(req.Target)}:
	default:
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, "gesture queue full")
		return
	}
	writeJSON(rw, http.StatusAccepted, map[string]any{"ok": true, "queued_at_tick": tb.LastTick()})
}

type exportResp struct {
	Path        string `json:"path"`
	Tick        uint64 `json:"tick"`
	Digest      string `json:"digest"`
	Nodes       int    `json:"nodes"`
	Connections int    `json:"connections"`
}

func (a *adminAPI) handleExport(rw http.ResponseWriter, r *http.Request) {
	hub := a.room.Hub()
	now := a.now()
	snap := export.Build(hub.Entities(), hub.Tick(), now)
	path := filepath.Join(a.dataDir, "exports", export.FileName(snap, now))
	if err := export.Write(path, snap); err != nil {
		a.logf("export write: %v", err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "export failed")
		return
	}
	if a.idx != nil {
		a.idx.RecordExport(path, snap)
	}
	writeJSON(rw, http.StatusOK, exportResp{
		Path:        path,
		Tick:        snap.Header.Tick,
		Digest:      snap.Header.Digest,
		Nodes:       len(snap.Nodes),
		Connections: len(snap.Connections),
	})
}

func (a *adminAPI) handleMigrations(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrConfigMissing, "index disabled")
		return
	}
	peer, _ := strconv.Atoi(r.URL.Query().Get("peer"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := a.idx.Migrations(r.Context(), peer, limit)
	if err != nil {
		a.logf("migrations query: %v", err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "query failed")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"migrations": rows})
}

type peerState struct {
	Peer    int                `json:"peer"`
	Name    string             `json:"name"`
	Status  string             `json:"status"`
	Summary table.TickLogEntry `json:"summary"`
}

func (a *adminAPI) handleState(rw http.ResponseWriter, r *http.Request) {
	resp := struct {
		Tick     uint64      `json:"tick"`
		Entities int         `json:"entities"`
		Peers    []peerState `json:"peers"`
	}{Tick: a.room.Hub().Tick(), Entities: len(a.room.Hub().Entities()), Peers: []peerState{}}
	for _, tb := range a.room.Tables() {
		resp.Peers = append(resp.Peers, peerState{
			Peer:    int(tb.Peer()),
			Name:    tb.Name(),
			Status:  tb.Runner().Status().String(),
			Summary: tb.Summary(),
		})
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *adminAPI) writeRequestError(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, table.ErrNotConnected):
		writeError(rw, http.StatusConflict, protocol.ErrNotConnected, err.Error())
	case errors.Is(err, table.ErrBusy):
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
	case errors.Is(err, table.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
	default:
		a.logf("admin request: %v", err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
	}
}

func writeMetrics(rw http.ResponseWriter, room *table.Room, idx runtimeIndex) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP sharedtable_session_tick Current hub tick.\n")
	fmt.Fprintf(rw, "# TYPE sharedtable_session_tick gauge\n")
	fmt.Fprintf(rw, "sharedtable_session_tick %d\n", room.Hub().Tick())

	fmt.Fprintf(rw, "# HELP sharedtable_edges Edges tracked by each peer, by state.\n")
	fmt.Fprintf(rw, "# TYPE sharedtable_edges gauge\n")
	tables := room.Tables()
	for _, tb := range tables {
		s := tb.Summary()
		fmt.Fprintf(rw, "sharedtable_edges{peer=%q,state=%q} %d\n", tb.Name(), "resolving", s.Resolving)
		fmt.Fprintf(rw, "sharedtable_edges{peer=%q,state=%q} %d\n", tb.Name(), "live", s.Live)
		fmt.Fprintf(rw, "sharedtable_edges{peer=%q,state=%q} %d\n", tb.Name(), "orphaned", s.Orphaned)
	}

	fmt.Fprintf(rw, "# HELP sharedtable_panels_active Open document panels visible to each peer.\n")
	fmt.Fprintf(rw, "# TYPE sharedtable_panels_active gauge\n")
	for _, tb := range tables {
		fmt.Fprintf(rw, "sharedtable_panels_active{peer=%q} %d\n", tb.Name(), tb.Summary().Panels)
	}

	fmt.Fprintf(rw, "# HELP sharedtable_edge_lookups_total Edge endpoint lookups issued by each peer.\n")
	fmt.Fprintf(rw, "# TYPE sharedtable_edge_lookups_total counter\n")
	for _, tb := range tables {
		fmt.Fprintf(rw, "sharedtable_edge_lookups_total{peer=%q} %d\n", tb.Name(), tb.Summary().Lookups)
	}

	if idx == nil {
		return
	}
	st := idx.Stats()
	fmt.Fprintf(rw, "# HELP sharedtable_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(rw, "# TYPE sharedtable_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "sharedtable_index_queue_depth %d\n", st.QueueDepth)
	fmt.Fprintf(rw, "# HELP sharedtable_index_dropped_total Index rows dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE sharedtable_index_dropped_total counter\n")
	fmt.Fprintf(rw, "sharedtable_index_dropped_total{kind=%q} %d\n", "tick", st.DropTickTotal)
	fmt.Fprintf(rw, "sharedtable_index_dropped_total{kind=%q} %d\n", "audit", st.DropAuditTotal)
	fmt.Fprintf(rw, "sharedtable_index_dropped_total{kind=%q} %d\n", "export", st.DropExportTotal)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
