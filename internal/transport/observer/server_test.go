package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sharedtable.ai/internal/codec"
	"sharedtable.ai/internal/protocol"
	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/table"
	"sharedtable.ai/internal/sim/zones"
)

func newTestServer(t *testing.T) (*httptest.Server, *table.Room) {
	t.Helper()
	cat, err := zones.NewCatalog(zones.Config{Default: zones.SlotSpec{ID: "table", Pos: geom.V(0, 0.8, 0)}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	room := table.NewRoom(session.NewHub(session.Config{}, nil), nil)
	if _, err := room.Join("alice", table.Config{TickRateHz: 50}, table.Deps{Zones: cat}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = room.Run(ctx, 50)
		close(done)
	}()

	s := NewServer(room, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("GET /v1/observe/{peer}", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv, room
}

func dial(t *testing.T, srv *httptest.Server, peer string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe/" + peer
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWSHandler_StreamsTicksAsJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "alice")
	if err := conn.WriteJSON(protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("message type %d", mt)
	}
	var msg protocol.TickMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != protocol.TypeTick || msg.Peer != 1 {
		t.Fatalf("tick: %+v", msg)
	}
}

func TestWSHandler_StreamsTicksAsCBOR(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "1")
	if err := conn.WriteJSON(protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Encoding: "CBOR"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type %d", mt)
	}
	var msg protocol.TickMsg
	if err := codec.Unmarshal(b, &msg); err != nil {
		t.Fatalf("cbor: %v", err)
	}
	if msg.Type != protocol.TypeTick {
		t.Fatalf("tick: %+v", msg)
	}
}

func TestWSHandler_RejectsBadHandshake(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "alice")
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestWSHandler_UnknownPeer(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/observe/nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var e protocol.ErrorMsg
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Code != protocol.ErrPeerNotFound {
		t.Fatalf("error body: %+v %v", e, err)
	}
}

func TestBootstrapHandler_ListsPeers(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != protocol.Version || len(b.Peers) != 1 || b.Peers[0].Name != "alice" {
		t.Fatalf("bootstrap: %+v", b)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
