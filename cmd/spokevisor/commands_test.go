package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeDaemon answers the management API with canned documents.
func fakeDaemon(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []string
	)
	reply := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/services":
			reply(w, 200, []map[string]any{{"key": "api", "state": "running"}})
		case "/api/services/api":
			reply(w, 200, map[string]any{"key": "api", "state": "running"})
		case "/api/services/api/start", "/api/services/api/restart":
			reply(w, 202, map[string]any{"key": "api", "success": true, "message": "Starting api", "state": "starting"})
		case "/api/services/api/stop":
			reply(w, 200, map[string]any{"key": "api", "success": true, "message": "Stopped api", "state": "stopped"})
		case "/api/services/api/logs":
			reply(w, 200, map[string]any{"key": "api", "lines": 2, "logs": "one\ntwo\n"})
		case "/api/services/start-all":
			reply(w, 200, []map[string]any{{"key": "db", "success": true}, {"key": "api", "success": false, "message": "boom"}})
		case "/api/services/stop-all":
			reply(w, 200, []map[string]any{{"key": "api", "success": true}})
		case "/api/services/auto-start", "/api/services/api/auto-start":
			reply(w, 200, map[string]bool{"api": true})
		default:
			reply(w, 404, map[string]string{"error": "unknown service: " + r.URL.Path})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), calls...)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusCommands(t *testing.T) {
	srv, _ := fakeDaemon(t)
	url := "--api-url=" + srv.URL + "/api"

	out, err := run(t, "status", url)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"key": "api"`) {
		t.Fatalf("unexpected output: %s", out)
	}

	out, err = run(t, "status", "api", url)
	if err != nil || !strings.Contains(out, `"state": "running"`) {
		t.Fatalf("status api: %v %s", err, out)
	}

	if _, err := run(t, "status", "nope", url); err == nil || !strings.Contains(err.Error(), "unknown service") {
		t.Fatalf("expected unknown service error, got %v", err)
	}
}

func TestLifecycleCommands(t *testing.T) {
	srv, calls := fakeDaemon(t)
	url := "--api-url=" + srv.URL + "/api"

	if _, err := run(t, "start", "api", "--wait=5s", url); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := run(t, "stop", "api", url); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := run(t, "restart", "api", url); err != nil {
		t.Fatalf("restart: %v", err)
	}
	out, err := run(t, "logs", "api", "-n", "2", url)
	if err != nil || out != "one\ntwo\n" {
		t.Fatalf("logs: %v %q", err, out)
	}

	want := []string{
		"POST /api/services/api/start?wait=5s",
		"POST /api/services/api/stop?",
		"POST /api/services/api/restart?",
		"GET /api/services/api/logs?lines=2",
	}
	var got []string
	for _, c := range calls() {
		// reachability probes
		if c != "GET /api/services?" {
			got = append(got, c)
		}
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("calls:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestBulkCommandsReportFailures(t *testing.T) {
	srv, _ := fakeDaemon(t)
	url := "--api-url=" + srv.URL + "/api"

	out, err := run(t, "start-all", url)
	if err == nil || err.Error() != "failed to start 1 service(s)" {
		t.Fatalf("expected failure summary, got %v", err)
	}
	if !strings.Contains(out, `"message": "boom"`) {
		t.Fatalf("results not printed: %s", out)
	}
	if _, err := run(t, "stop-all", url); err != nil {
		t.Fatalf("stop-all: %v", err)
	}
}

func TestAutoStartCommand(t *testing.T) {
	srv, calls := fakeDaemon(t)
	url := "--api-url=" + srv.URL + "/api"

	if _, err := run(t, "auto-start", "api", "true", url); err != nil {
		t.Fatalf("auto-start set: %v", err)
	}
	found := false
	for _, c := range calls() {
		if c == "PATCH /api/services/api/auto-start?enabled=true" {
			found = true
		}
	}
	if !found {
		t.Fatalf("PATCH not sent: %v", calls())
	}
	if _, err := run(t, "auto-start", "api", "maybe", url); err == nil {
		t.Fatalf("expected bool parse error")
	}
	if _, err := run(t, "auto-start", "api", url); err == nil {
		t.Fatalf("expected arg count error")
	}
}

func TestDaemonNotReachable(t *testing.T) {
	_, err := run(t, "status", "--api-url=http://127.0.0.1:1/api", "--api-timeout=200ms")
	if err == nil || !strings.Contains(err.Error(), "daemon not reachable") {
		t.Fatalf("expected reachability error, got %v", err)
	}
}

func TestServeRequiresConfig(t *testing.T) {
	if _, err := run(t, "serve"); err == nil || !strings.Contains(err.Error(), "config file required") {
		t.Fatalf("expected config error, got %v", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("[ledger]\ntype = \"carrier-pigeon\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "serve", bad); err == nil || !strings.Contains(err.Error(), "ledger") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHelpMentionsCommands(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, sub := range []string{"serve", "start-all", "auto-start", "logs"} {
		if !strings.Contains(out, sub) {
			t.Fatalf("help missing %s: %s", sub, out)
		}
	}
}
