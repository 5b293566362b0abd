package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Client talks to a running engramd daemon over its control API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	// BaseURL points at the daemon's API root, e.g. http://127.0.0.1:4848/api.
	BaseURL string
	// APIToken is sent as a bearer token when the daemon requires one.
	APIToken string
	Timeout  time.Duration
	// Logger for client operations; defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration matching a locally running daemon
// with default settings.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:4848/api",
		Timeout: 10 * time.Second,
	}
}

// New creates an engramd API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:4848/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.APIToken,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// BaseURL reports the resolved API base URL, defaults included.
func (c *Client) BaseURL() string { return c.baseURL }

// IsReachable checks if the daemon is running and answering.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Status fetches the merged supervisor and worker status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.getJSON(ctx, "/status", &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Start asks the daemon to start the worker.
func (c *Client) Start(ctx context.Context) error {
	return c.post(ctx, "/start")
}

// Stop asks the daemon to stop the worker.
func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, "/stop")
}

// Restart asks the daemon to restart the worker.
func (c *Client) Restart(ctx context.Context) error {
	return c.post(ctx, "/restart")
}

// Health reports whether the worker answers its status probe. The error is
// non-nil only when the daemon itself cannot be asked.
func (c *Client) Health(ctx context.Context) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusServiceUnavailable:
		return false, nil
	default:
		return false, c.errorFrom(resp)
	}
}

// History fetches up to limit recent lifecycle events, oldest first.
// limit 0 returns everything the daemon retains.
func (c *Client) History(ctx context.Context, limit int) ([]Event, error) {
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var events []Event
	if err := c.getJSON(ctx, path, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Export pulls the worker's memories as raw JSON.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/export", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFrom(resp)
	}
	return io.ReadAll(resp.Body)
}

// ResetData wipes the worker's stored memories and restarts it.
func (c *Client) ResetData(ctx context.Context) error {
	return c.post(ctx, "/reset-data")
}

// Resources fetches the worker's latest resource sample. withHistory also
// returns the retained sample history.
func (c *Client) Resources(ctx context.Context, withHistory bool) (Resources, error) {
	path := "/resources"
	if withHistory {
		path += "?history=1"
	}
	var res Resources
	if err := c.getJSON(ctx, path, &res); err != nil {
		return Resources{}, err
	}
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFrom converts a non-200 response into an error, preferring the
// daemon's own error message.
func (c *Client) errorFrom(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", er.Error)
}
