package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "engramd.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoad_Minimal(t *testing.T) {
	file := writeConfig(t, `
[worker]
resource_dir = "/opt/engram/resources"
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.ResourceDir != "/opt/engram/resources" {
		t.Fatalf("unexpected resource_dir: %q", cfg.Worker.ResourceDir)
	}
	// unset fields pick up defaults
	if cfg.Worker.Port != DefaultWorkerPort {
		t.Fatalf("expected default port %d, got %d", DefaultWorkerPort, cfg.Worker.Port)
	}
	if cfg.Server.Listen != DefaultListen || cfg.Server.BasePath != DefaultBasePath {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
}

func TestLoad_Full(t *testing.T) {
	file := writeConfig(t, `
[worker]
port = 4040
resource_dir = "/opt/engram/resources"
override_dir = "/srv/engram"
data_dir = "/var/lib/engram"
workdir = "/tmp"

[server]
listen = "0.0.0.0:9999"
base_path = "/control"
api_token = "secret"

[log.slog]
level = "debug"
format = "json"
color = true
timestamps = true

[log.file]
dir = "/var/log/engramd"
max_size_mb = 5
max_backups = 2
max_age_days = 1
compress = true

[history]
dsn = "sqlite:///var/lib/engramd/history.db"

[metrics]
listen = "127.0.0.1:9100"

[resources]
enabled = true
interval = "10s"
max_history = 25
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.Port != 4040 || cfg.Worker.OverrideDir != "/srv/engram" || cfg.Worker.DataDir != "/var/lib/engram" {
		t.Fatalf("unexpected worker config: %+v", cfg.Worker)
	}
	if cfg.Server.Listen != "0.0.0.0:9999" || cfg.Server.BasePath != "/control" || cfg.Server.APIToken != "secret" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Log.Slog.Level != "debug" || cfg.Log.Slog.Format != "json" || !cfg.Log.Slog.Color {
		t.Fatalf("unexpected slog config: %+v", cfg.Log.Slog)
	}
	if cfg.Log.File.Dir != "/var/log/engramd" || cfg.Log.File.MaxSizeMB != 5 || !cfg.Log.File.Compress {
		t.Fatalf("unexpected file log config: %+v", cfg.Log.File)
	}
	if cfg.History.DSN != "sqlite:///var/lib/engramd/history.db" {
		t.Fatalf("unexpected history dsn: %q", cfg.History.DSN)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Fatalf("unexpected metrics listen: %q", cfg.Metrics.Listen)
	}
	if !cfg.Resources.Enabled || cfg.Resources.Interval != 10*time.Second || cfg.Resources.MaxHistory != 25 {
		t.Fatalf("unexpected resources config: %+v", cfg.Resources)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	file := writeConfig(t, `
[worker]
port = 70000
`)
	if _, err := Load(file); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestLoad_InvalidBasePath(t *testing.T) {
	file := writeConfig(t, `
[server]
base_path = "api"
`)
	if _, err := Load(file); err == nil {
		t.Fatalf("expected error for base_path without leading slash")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Worker.Port != DefaultWorkerPort {
		t.Fatalf("expected default port, got %d", cfg.Worker.Port)
	}
	if cfg.Server.BasePath != DefaultBasePath {
		t.Fatalf("expected default base path, got %q", cfg.Server.BasePath)
	}
}
