package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sharedtable.ai/internal/protocol"
	"sharedtable.ai/internal/sim/table"
)

type Server struct {
	room *table.Room
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(room *table.Room, logger *log.Logger) *Server {
	return &Server{
		room: room,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type PeerInfo struct {
	Peer   int    `json:"peer"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Tick   uint64 `json:"tick"`
}

type BootstrapResponse struct {
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	Peers           []PeerInfo `json:"peers"`
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := BootstrapResponse{
			ProtocolVersion: protocol.Version,
			Tick:            s.room.Hub().Tick(),
			Peers:           []PeerInfo{},
		}
		for _, t := range s.room.Tables() {
			resp.Peers = append(resp.Peers, PeerInfo{
				Peer:   int(t.Peer()),
				Name:   t.Name(),
				Status: t.Runner().Status().String(),
				Tick:   t.LastTick(),
			})
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// WSHandler streams one peer's TICK frames, plus PANEL_FLASH frames, to a
// read-only observer. The peer is the {peer} path value, by id or name.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		tb, ok := s.room.Lookup(r.PathValue("peer"))
		if !ok {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(rw).Encode(protocol.NewError(protocol.ErrPeerNotFound, "unknown peer"))
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}
		enc, err := normalizeEncoding(sub.Encoding)
		if err != nil {
			closeWith(conn, websocket.CloseUnsupportedData, err.Error())
			return
		}
		frameType := websocket.TextMessage
		if enc == protocol.EncodingCBOR {
			frameType = websocket.BinaryMessage
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		tickOut := make(chan []byte, 8)
		dataOut := make(chan []byte, 256)

		select {
		case tb.ObserverJoin() <- table.ObserverJoinRequest{SessionID: sid, Encoding: enc, TickOut: tickOut, DataOut: dataOut}:
		default:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		defer func() {
			select {
			case tb.ObserverLeave() <- sid:
			default:
				// Table loop is stopping; nothing else to do.
			}
		}()
		if s.log != nil {
			s.log.Printf("observer %s attached to peer %d (%s)", sid, tb.Peer(), enc)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				var ok bool
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok = <-dataOut:
				case b, ok = <-tickOut:
				}
				if !ok {
					writeErr <- nil
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(frameType, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: observers are read-only; anything but a close is ignored.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func normalizeEncoding(enc string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", protocol.EncodingJSON:
		return protocol.EncodingJSON, nil
	case protocol.EncodingCBOR:
		return protocol.EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", enc)
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
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
