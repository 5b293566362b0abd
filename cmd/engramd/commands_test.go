package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fakeStatusBody = `{"running":true,"status":"running","pid":4242,"port":3838,"restarts":0,"memory_count":3,"version":"1.2.0"}`

// newFakeDaemon serves a minimal happy-path control API under /api.
func newFakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	writeBody := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, fakeStatusBody)
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, `{"healthy":true}`)
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, `[{"type":"running","occurred_at":"2025-10-03T10:00:00Z","pid":4242,"restarts":0}]`)
	})
	mux.HandleFunc("/api/export", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, `[{"id":1},{"id":2}]`)
	})
	mux.HandleFunc("/api/resources", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, `{"current":{"pid":4242,"cpu_percent":1.5,"memory_mb":120.5,"memory_rss":126353408,"memory_vms":0,"num_threads":11,"timestamp":"2025-10-03T10:00:00Z"}}`)
	})
	for _, p := range []string{"/api/start", "/api/stop", "/api/restart", "/api/reset-data"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			writeBody(w, `{"ok":true}`)
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func flagsFor(srv *httptest.Server) ClientFlags {
	return ClientFlags{APIUrl: srv.URL + "/api", APITimeout: 2 * time.Second}
}

func TestCommandLifecycle(t *testing.T) {
	srv := newFakeDaemon(t)
	f := flagsFor(srv)
	c := command{}

	if err := c.Status(f); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := c.Start(f); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(f); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Restart(f); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := c.Health(f); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := c.History(HistoryFlags{ClientFlags: f, Limit: 5}); err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := c.ResetData(f); err != nil {
		t.Fatalf("reset-data: %v", err)
	}
	if err := c.Resources(ResourcesFlags{ClientFlags: f}); err != nil {
		t.Fatalf("resources: %v", err)
	}
}

func TestExportWritesFile(t *testing.T) {
	srv := newFakeDaemon(t)
	out := filepath.Join(t.TempDir(), "memories.json")
	c := command{}

	if err := c.Export(ExportFlags{ClientFlags: flagsFor(srv), Output: out}); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != `[{"id":1},{"id":2}]` {
		t.Fatalf("unexpected export contents: %s", data)
	}
}

func TestDaemonNotReachable(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	url := srv.URL
	srv.Close()

	c := command{}
	err := c.Status(ClientFlags{APIUrl: url + "/api", APITimeout: 500 * time.Millisecond})
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Fatalf("expected not-reachable error, got %v", err)
	}
}

func TestHealthUnhealthyExitsWithError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fakeStatusBody))
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"healthy":false}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := command{}
	err := c.Health(flagsFor(srv))
	if err == nil || !strings.Contains(err.Error(), "not healthy") {
		t.Fatalf("expected unhealthy error, got %v", err)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fakeStatusBody))
	})
	mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"resolve worker command: no bundle found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := command{}
	err := c.Start(flagsFor(srv))
	if err == nil || !strings.Contains(err.Error(), "resolve worker command") {
		t.Fatalf("expected API error to surface, got %v", err)
	}
}

func TestTokenFlagReachesServer(t *testing.T) {
	var got string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(fakeStatusBody))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := command{}
	f := flagsFor(srv)
	f.APIToken = "sekret"
	if err := c.Status(f); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got != "Bearer sekret" {
		t.Fatalf("authorization header = %q", got)
	}
}

func TestClientFromDefaults(t *testing.T) {
	api := clientFrom(ClientFlags{})
	if api.BaseURL() != "http://127.0.0.1:4848/api" {
		t.Fatalf("default base url = %q", api.BaseURL())
	}
	api = clientFrom(ClientFlags{APIUrl: "http://example.com/api"})
	if api.BaseURL() != "http://example.com/api" {
		t.Fatalf("base url = %q", api.BaseURL())
	}
}
