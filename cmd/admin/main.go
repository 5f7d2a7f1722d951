// Command admin inspects a running or stopped session: peer data dirs on
// disk, the sqlite index, and the server's local admin endpoints.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "migrate", "teleport":
			peerActionCmd(os.Args[1], os.Args[2:])
			return
		case "gesture":
			gestureCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the peers that have written logs under the data dir.
func listCmd(args []string) {
	fs := pflag.NewFlagSet("admin", pflag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	names, err := listPeers(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func listPeers(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "peers"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
