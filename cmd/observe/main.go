// Command observe subscribes to one peer's render stream and prints a line
// per tick (edge counts by state, open panels) and per panel flash.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"sharedtable.ai/internal/codec"
	"sharedtable.ai/internal/protocol"
)

func main() {
	var (
		baseURL  = pflag.String("url", "ws://localhost:8080/v1/observe", "observer ws base url")
		peer     = pflag.String("peer", "1", "peer id or name")
		encoding = pflag.String("encoding", protocol.EncodingJSON, "frame encoding (json|cbor)")
		every    = pflag.Uint64("every", 30, "print every Nth tick (flashes are always printed)")
	)
	pflag.Parse()

	logger := log.New(os.Stdout, "[observe] ", log.LstdFlags|log.Lmicroseconds)
	url := strings.TrimRight(*baseURL, "/") + "/" + *peer
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Encoding: *encoding}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := decodeFrame(*encoding, b)
		if err != nil {
			logger.Printf("decode: %v", err)
			continue
		}
		switch m := msg.(type) {
		case protocol.TickMsg:
			if *every <= 1 || m.Tick%*every == 0 {
				logger.Print(summarizeTick(m))
			}
		case protocol.FlashMsg:
			logger.Printf("PANEL_FLASH tick=%d panel=E%d from=%d", m.Tick, m.Panel, m.From)
		}
	}
}

func decodeFrame(encoding string, b []byte) (any, error) {
	unmarshal := json.Unmarshal
	if strings.EqualFold(encoding, protocol.EncodingCBOR) {
		unmarshal = codec.Unmarshal
	}
	var base protocol.BaseMessage
	if err := unmarshal(b, &base); err != nil {
		return nil, err
	}
	switch base.Type {
	case protocol.TypeTick:
		var m protocol.TickMsg
		if err := unmarshal(b, &m); err != nil {
			return nil, err
		}
		return m, nil
	case protocol.TypeFlash:
		var m protocol.FlashMsg
		if err := unmarshal(b, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unexpected message type %q", base.Type)
	}
}

func summarizeTick(m protocol.TickMsg) string {
	states := map[string]int{}
	for _, e := range m.Edges {
		states[e.State]++
	}
	open := 0
	for _, p := range m.Panels {
		if p.Panel != 0 {
			open++
		}
	}
	return fmt.Sprintf("TICK %d peer=%d color=%s edges=%d resolving=%d live=%d orphaned=%d panels=%d",
		m.Tick, m.Peer, m.Color, len(m.Edges), states["RESOLVING"], states["LIVE"], states["ORPHANED"], open)
}
