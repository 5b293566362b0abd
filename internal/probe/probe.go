package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Timeouts per caller type: the periodic health loop tolerates a slower
// answer than an interactive status query; adoption is a bare TCP connect.
const (
	PeriodicTimeout    = 5 * time.Second
	InteractiveTimeout = 3 * time.Second
	AdoptTimeout       = 500 * time.Millisecond
	ExportTimeout      = 10 * time.Second
)

// Report is the worker's own view of itself, read from its status endpoint.
// Every field is optional; absent fields stay zero-valued and are treated as
// unknown, not as an error.
type Report struct {
	Status   string `json:"status"`
	Memories uint64 `json:"memories"`
	Uptime   uint64 `json:"uptime"`
	Version  string `json:"version"`
}

var client = &http.Client{}

func statusURL(port int) string {
	return fmt.Sprintf("http://localhost:%d/api/status", port)
}

// Check issues one GET against the worker's status endpoint and reports
// whether it answered with a success code. Transport errors, timeouts, and
// non-2xx responses all reduce to false; Check never returns an error.
func Check(ctx context.Context, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL(port), nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Fetch retrieves and parses the worker's status report. ok is false when
// the endpoint is unreachable, answers non-2xx, or the body is not JSON.
func Fetch(ctx context.Context, port int, timeout time.Duration) (Report, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL(port), nil)
	if err != nil {
		return Report{}, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return Report{}, false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Report{}, false
	}
	var r Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Report{}, false
	}
	return r, true
}

// FetchMemories retrieves the worker's memory export, a raw JSON document,
// limited to the given number of entries.
func FetchMemories(ctx context.Context, port, limit int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ExportTimeout)
	defer cancel()
	url := fmt.Sprintf("http://localhost:%d/api/memories?limit=%d", port, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch memories: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch memories: worker answered %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read memories export: %w", err)
	}
	return body, nil
}

// Listening reports whether anything accepts TCP connections on the port.
// The check is heuristic: any listener is treated as a live worker.
func Listening(port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
