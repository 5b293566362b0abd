package engramd

import (
	"context"
	"net/http"
	"time"

	cfg "github.com/loykin/engramd/internal/config"
	"github.com/loykin/engramd/internal/history"
	"github.com/loykin/engramd/internal/history/factory"
	"github.com/loykin/engramd/internal/locate"
	"github.com/loykin/engramd/internal/metrics"
	iapi "github.com/loykin/engramd/internal/server"
	"github.com/loykin/engramd/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Status = supervisor.Status

type Event = history.Event

type HistorySink = history.Sink

type ResourceConfig = metrics.ResourceConfig

type ResourceCollector = metrics.ResourceCollector

// ServerOptions tunes the embeddable control API.
type ServerOptions = iapi.Options

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *supervisor.Supervisor }

// New builds a supervisor from a daemon configuration. A history DSN, when
// set, is opened here so a bad DSN fails fast instead of at the first event.
func New(c *Config) (*Supervisor, error) {
	if c == nil {
		c = cfg.Default()
	}
	var sink history.Sink
	if c.History.DSN != "" {
		s, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, err
		}
		sink = s
	}
	env := locate.SystemEnvironment(c.Worker.ResourceDir, c.Worker.OverrideDir)
	if c.Worker.WorkDir != "" {
		env.WorkDir = c.Worker.WorkDir
	}
	inner := supervisor.New(supervisor.Config{
		Port:    c.Worker.Port,
		Env:     env,
		DataDir: c.Worker.DataDir,
		Log:     c.Log,
		History: sink,
	})
	return &Supervisor{inner: inner}, nil
}

// Run blocks consuming lifecycle notifications; run it in its own goroutine.
func (s *Supervisor) Run() { s.inner.Run() }

func (s *Supervisor) Start() error    { return s.inner.Start() }
func (s *Supervisor) Stop() error     { return s.inner.Stop() }
func (s *Supervisor) Restart() error  { return s.inner.Restart() }
func (s *Supervisor) Shutdown() error { return s.inner.Shutdown() }

func (s *Supervisor) Status(ctx context.Context) Status    { return s.inner.Status(ctx) }
func (s *Supervisor) CheckHealth(ctx context.Context) bool { return s.inner.CheckHealth(ctx) }
func (s *Supervisor) Export(ctx context.Context) ([]byte, error) {
	return s.inner.Export(ctx)
}
func (s *Supervisor) ResetData() error         { return s.inner.ResetData() }
func (s *Supervisor) PID() int                 { return s.inner.PID() }
func (s *Supervisor) Journal(n int) []Event    { return s.inner.Journal(n) }
func (s *Supervisor) Subscribe(fn func(Event)) { s.inner.Subscribe(fn) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() *Config { return cfg.Default() }

// NewHTTPServer starts the control API on addr for the given supervisor.
func NewHTTPServer(addr string, s *Supervisor, opts ServerOptions) (*http.Server, error) {
	return iapi.NewServer(addr, s.inner, opts)
}

// NewResourceCollector builds a collector sampling the worker's CPU and
// memory usage. Feed it the supervisor's PID via Start.
func NewResourceCollector(rc ResourceConfig) *ResourceCollector {
	return metrics.NewResourceCollector(rc)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
