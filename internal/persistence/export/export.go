// Package export writes the end-of-session graph: every note and token on
// the shared table plus the connections between them.
package export

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"sharedtable.ai/internal/sim/geom"
	"sharedtable.ai/internal/sim/session"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	Tick    uint64 `json:"tick"`
	// Digest covers Nodes and Connections only, so two exports of the same
	// graph compare equal regardless of when they were taken.
	Digest string `json:"digest"`
}

type Node struct {
	NetworkID uint32    `json:"networkID"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	OwnerID   int       `json:"ownerID"`
	Position  geom.Vec3 `json:"position"`
}

type Connection struct {
	NetworkID uint32 `json:"networkID"`
	From      uint32 `json:"fromNodeID"`
	To        uint32 `json:"toNodeID"`
	OwnerID   int    `json:"ownerID"`
}

type GraphSnapshot struct {
	Header      Header       `json:"header"`
	SessionDate string       `json:"sessionDate"`
	Timestamp   string       `json:"timestamp"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Build collects the graph from the authoritative entity list. Connections
// missing either endpoint id are left out.
func Build(ents []session.Entity, tick uint64, now time.Time) GraphSnapshot {
	snap := GraphSnapshot{
		Header:      Header{Version: Version, Tick: tick},
		SessionDate: now.Format("2006-01-02"),
		Timestamp:   now.Format("15:04:05"),
		Nodes:       []Node{},
		Connections: []Connection{},
	}
	for _, e := range ents {
		switch e.Kind {
		case session.KindNote:
			snap.Nodes = append(snap.Nodes, Node{NetworkID: uint32(e.ID), Type: "PostIt", Content: e.Content, OwnerID: int(e.Authority), Position: e.Transform.Pos})
		case session.KindToken:
			snap.Nodes = append(snap.Nodes, Node{NetworkID: uint32(e.ID), Type: "Token", Content: e.Content, OwnerID: int(e.Authority), Position: e.Transform.Pos})
		case session.KindEdge:
			if !e.Start.Valid() || !e.End.Valid() {
				continue
			}
			snap.Connections = append(snap.Connections, Connection{NetworkID: uint32(e.ID), From: uint32(e.Start), To: uint32(e.End), OwnerID: int(e.Authority)})
		}
	}
	snap.Header.Digest = GraphDigest(snap)
	return snap
}

func GraphDigest(snap GraphSnapshot) string {
	b, _ := json.Marshal(struct {
		Nodes       []Node       `json:"nodes"`
		Connections []Connection `json:"connections"`
	}{snap.Nodes, snap.Connections})
	return Digest(b)
}

// Digest is the hex BLAKE3-256 of b.
func Digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FileName is the export's name inside the exports directory.
func FileName(snap GraphSnapshot, now time.Time) string {
	return fmt.Sprintf("graph-%s-%d.json.zst", now.UTC().Format("2006-01-02_15-04-05"), snap.Header.Tick)
}

// Write stores snap as a JSON header line followed by the JSON body, zstd-compressed.
func Write(path string, snap GraphSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

func Read(path string) (GraphSnapshot, error) {
	var snap GraphSnapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line; the body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	return snap, nil
}

// ReadHeader reads only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}
