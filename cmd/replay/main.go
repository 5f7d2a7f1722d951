// Command replay checks a graph export against its digest and walks a peer's
// audit and tick logs, reporting what the peer did and any gaps in its ticks.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"sharedtable.ai/internal/persistence/export"
	persistlog "sharedtable.ai/internal/persistence/log"
	"sharedtable.ai/internal/sim/table"
)

func main() {
	var (
		exportPath = pflag.String("export", "", "path to graph-*.json.zst (optional)")
		peerDir    = pflag.String("peer_dir", "", "peer data dir containing audit/ and ticks/ (optional)")
		fromTick   = pflag.Uint64("from_tick", 0, "ignore entries before tick (inclusive start)")
		toTick     = pflag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	pflag.Parse()

	if *exportPath == "" && *peerDir == "" {
		fmt.Fprintln(os.Stderr, "missing --export or --peer_dir")
		os.Exit(2)
	}

	if *exportPath != "" {
		snap, err := export.Read(*exportPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read export:", err)
			os.Exit(1)
		}
		dangling, err := verifyExport(snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "export:", err)
			os.Exit(1)
		}
		fmt.Printf("export v%d tick=%d nodes=%d connections=%d dangling=%d digest=%s ok\n",
			snap.Header.Version, snap.Header.Tick, len(snap.Nodes), len(snap.Connections), dangling, snap.Header.Digest)
	}

	if *peerDir == "" {
		return
	}
	win := tickWindow{from: *fromTick, to: *toTick}

	auditFiles, err := listLogFiles(filepath.Join(*peerDir, "audit"), "audit-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list audit:", err)
		os.Exit(1)
	}
	counts := map[string]int{}
	for _, path := range auditFiles {
		if err := scanAudit(path, win, counts); err != nil {
			fmt.Fprintln(os.Stderr, "audit:", err)
			os.Exit(1)
		}
	}
	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Printf("audit %-16s %d\n", a, counts[a])
	}

	tickFiles, err := listLogFiles(filepath.Join(*peerDir, "ticks"), "ticks-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	var tc tickCheck
	for _, path := range tickFiles {
		if err := persistlog.ReadAll(path, func(line []byte) error {
			var e table.TickLogEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if win.contains(e.Tick) {
				return tc.add(e)
			}
			return nil
		}); err != nil {
			fmt.Fprintln(os.Stderr, "ticks:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("ticks checked=%d first=%d last=%d gaps=%d orphaned_max=%d\n", tc.checked, tc.first, tc.last, tc.gaps, tc.orphanedMax)
}

// verifyExport checks the digest and counts connections whose endpoints are
// not in the export, which happens when a node was discarded before the edge.
func verifyExport(snap export.GraphSnapshot) (dangling int, err error) {
	if got := export.GraphDigest(snap); got != snap.Header.Digest {
		return 0, fmt.Errorf("digest mismatch: got=%s want=%s", got, snap.Header.Digest)
	}
	ids := make(map[uint32]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		ids[n.NetworkID] = true
	}
	for _, c := range snap.Connections {
		if !ids[c.From] || !ids[c.To] {
			dangling++
		}
	}
	return dangling, nil
}

type tickWindow struct{ from, to uint64 }

func (w tickWindow) contains(tick uint64) bool {
	return tick >= w.from && (w.to == 0 || tick <= w.to)
}

type tickCheck struct {
	checked     uint64
	first       uint64
	last        uint64
	gaps        int
	orphanedMax int
}

// add expects strictly increasing ticks; a jump of more than one is a gap.
func (c *tickCheck) add(e table.TickLogEntry) error {
	if c.checked > 0 {
		if e.Tick <= c.last {
			return fmt.Errorf("tick went backwards: %d after %d", e.Tick, c.last)
		}
		if e.Tick > c.last+1 {
			c.gaps++
		}
	} else {
		c.first = e.Tick
	}
	c.last = e.Tick
	c.checked++
	if e.Orphaned > c.orphanedMax {
		c.orphanedMax = e.Orphaned
	}
	return nil
}

func scanAudit(path string, win tickWindow, counts map[string]int) error {
	return persistlog.ReadAll(path, func(line []byte) error {
		var e table.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if win.contains(e.Tick) {
			counts[e.Action]++
		}
		return nil
	})
}

func listLogFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
