package config

import (
	"fmt"
	"strings"

	"github.com/loykin/engramd/internal/logger"
	"github.com/loykin/engramd/internal/metrics"
	"github.com/spf13/viper"
)

// Default values applied when the TOML file leaves fields unset.
const (
	DefaultWorkerPort = 3838
	DefaultListen     = "127.0.0.1:4848"
	DefaultBasePath   = "/api"
)

// WorkerConfig describes the supervised worker: where to find it, which
// port it serves on, and where its data lives.
type WorkerConfig struct {
	Port        int    `toml:"port" mapstructure:"port"`
	ResourceDir string `toml:"resource_dir" mapstructure:"resource_dir"`
	OverrideDir string `toml:"override_dir" mapstructure:"override_dir"`
	DataDir     string `toml:"data_dir" mapstructure:"data_dir"`
	WorkDir     string `toml:"workdir" mapstructure:"workdir"`
}

// ServerConfig describes the daemon's own control API listener.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	APIToken string `toml:"api_token" mapstructure:"api_token"`
}

// HistoryConfig selects the lifecycle-event journal backend by DSN.
// Examples: sqlite:///var/lib/engramd/history.db, postgres://..., clickhouse://host:9000.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

// Config is the top-level TOML structure for engramd.
type Config struct {
	Worker    WorkerConfig           `toml:"worker" mapstructure:"worker"`
	Server    ServerConfig           `toml:"server" mapstructure:"server"`
	Log       logger.Config          `toml:"log" mapstructure:"log"`
	History   HistoryConfig          `toml:"history" mapstructure:"history"`
	Metrics   MetricsConfig          `toml:"metrics" mapstructure:"metrics"`
	Resources metrics.ResourceConfig `toml:"resources" mapstructure:"resources"`
}

// Load reads and validates a TOML config file. Missing optional fields are
// filled with defaults; a missing file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.Worker.Port == 0 {
		c.Worker.Port = DefaultWorkerPort
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = DefaultBasePath
	}
}

func (c *Config) validate() error {
	if c.Worker.Port <= 0 || c.Worker.Port > 65535 {
		return fmt.Errorf("worker.port out of range: %d", c.Worker.Port)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with '/': %q", c.Server.BasePath)
	}
	return nil
}
