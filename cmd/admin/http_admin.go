package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func stateCmd(args []string) {
	fs := pflag.NewFlagSet("state", pflag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(call(http.MethodGet, adminURL(*baseURL, "/admin/v1/state"), nil, 5*time.Second))
}

// peerActionCmd posts a migrate or teleport for the peer named by the first
// positional argument (id or name).
func peerActionCmd(action string, args []string) {
	fs := pflag.NewFlagSet(action, pflag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: admin %s <peer>\n", action)
		os.Exit(2)
	}
	u := adminURL(*baseURL, "/admin/v1/peers/"+fs.Arg(0)+"/"+action)
	os.Exit(call(http.MethodPost, u, nil, 10*time.Second))
}

func gestureCmd(args []string) {
	fs := pflag.NewFlagSet("gesture", pflag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	if fs.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "usage: admin gesture <peer> <grab_start|grab_end|close_panel|discard> <entity>")
		os.Exit(2)
	}
	body, err := gestureBody(fs.Arg(1), fs.Arg(2))
	if err != nil {
		fmt.Fprintln(os.Stderr, "gesture:", err)
		os.Exit(2)
	}
	u := adminURL(*baseURL, "/admin/v1/peers/"+fs.Arg(0)+"/gesture")
	os.Exit(call(http.MethodPost, u, body, 5*time.Second))
}

func exportCmd(args []string) {
	fs := pflag.NewFlagSet("export", pflag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(call(http.MethodPost, adminURL(*baseURL, "/admin/v1/export"), nil, 10*time.Second))
}

// gestureBody accepts entity ids with or without the E prefix.
func gestureBody(kind, entity string) ([]byte, error) {
	var id uint32
	if _, err := fmt.Sscanf(strings.TrimPrefix(strings.TrimSpace(entity), "E"), "%d", &id); err != nil || id == 0 {
		return nil, fmt.Errorf("bad entity id %q", entity)
	}
	return json.Marshal(map[string]any{"kind": kind, "target": id})
}

func adminURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

func call(method, u string, body []byte, timeout time.Duration) int {
	req, _ := http.NewRequest(method, u, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
