package main

import (
	"encoding/json"
	"strings"
	"testing"

	"sharedtable.ai/internal/codec"
	"sharedtable.ai/internal/protocol"
)

func TestDecodeFrame_JSONAndCBOR(t *testing.T) {
	tick := protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Tick:            9,
		Peer:            2,
		Edges:           []protocol.EdgeState{{ID: 5, State: "LIVE", Visible: true}, {ID: 6, State: "ORPHANED"}},
		Panels:          []protocol.PanelState{{Source: 3, Panel: 7, State: "ACTIVE"}, {Source: 4, State: "NONE"}},
	}
	jb, _ := json.Marshal(tick)
	cb, err := codec.Marshal(tick)
	if err != nil {
		t.Fatalf("cbor: %v", err)
	}
	for enc, b := range map[string][]byte{protocol.EncodingJSON: jb, protocol.EncodingCBOR: cb} {
		msg, err := decodeFrame(enc, b)
		if err != nil {
			t.Fatalf("%s: %v", enc, err)
		}
		got, ok := msg.(protocol.TickMsg)
		if !ok || got.Tick != 9 || len(got.Edges) != 2 {
			t.Fatalf("%s: %+v", enc, msg)
		}
	}

	s := summarizeTick(tick)
	for _, want := range []string{"TICK 9", "live=1", "orphaned=1", "panels=1"} {
		if !strings.Contains(s, want) {
			t.Fatalf("summary %q missing %q", s, want)
		}
	}
}

func TestDecodeFrame_Flash(t *testing.T) {
	b, _ := json.Marshal(protocol.FlashMsg{Type: protocol.TypeFlash, ProtocolVersion: protocol.Version, Tick: 4, Panel: 11, From: 2})
	msg, err := decodeFrame("json", b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f, ok := msg.(protocol.FlashMsg); !ok || f.Panel != 11 || f.From != 2 {
		t.Fatalf("flash: %+v", msg)
	}
	if _, err := decodeFrame("json", []byte(`{"type":"HELLO"}`)); err == nil {
		t.Fatalf("expected unexpected type error")
	}
}
