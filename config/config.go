// CLAUDE:SUMMARY Application config: YAML file with defaults, env overrides, relative paths resolved against the file.
// Package config loads the pagewatch application configuration: where jobs
// and history live, retrieval settings, the daemon interval, the status
// server and report channels.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagewatch/channels"
)

// Config is the top-level pagewatch configuration.
type Config struct {
	// Jobs is the job declarations file.
	Jobs string `yaml:"jobs"`
	// DB is the SQLite history database. ":memory:" keeps history in
	// process memory only.
	DB       string `yaml:"db"`
	LogLevel string `yaml:"log_level"`
	// Workers bounds concurrently running jobs.
	Workers int `yaml:"workers"`
	// ReportNew reports first observations as changes.
	ReportNew bool `yaml:"report_new"`
	// Backoff is the wait before the first retry of a failed retrieval.
	Backoff time.Duration `yaml:"backoff"`

	HTTP     HTTPConfig      `yaml:"http"`
	Browser  BrowserConfig   `yaml:"browser"`
	Daemon   DaemonConfig    `yaml:"daemon"`
	Server   ServerConfig    `yaml:"server"`
	Channels []channels.Spec `yaml:"channels"`
}

// HTTPConfig controls the URL backend.
type HTTPConfig struct {
	UserAgent    string  `yaml:"user_agent"`
	MaxBytes     int64   `yaml:"max_bytes"`
	MaxRedirects int     `yaml:"max_redirects"`
	PerHostRate  float64 `yaml:"per_host_rate"`
	PerHostBurst int     `yaml:"per_host_burst"`
}

// BrowserConfig controls Chrome for browser jobs.
type BrowserConfig struct {
	Remote         string   `yaml:"remote"`
	Headful        bool     `yaml:"headful"`
	BlockResources []string `yaml:"block_resources"`
}

// DaemonConfig controls periodic runs.
type DaemonConfig struct {
	Interval time.Duration `yaml:"interval"`
	// RunOnStart runs the batch immediately instead of after one interval.
	RunOnStart *bool `yaml:"run_on_start"`
}

// ServerConfig controls the status API served by the daemon.
type ServerConfig struct {
	// Listen is the address of the status API. Empty disables it.
	Listen string `yaml:"listen"`
}

const (
	DefaultJobs     = "jobs.yaml"
	DefaultDB       = "pagewatch.db"
	DefaultWorkers  = 8
	DefaultBackoff  = time.Second
	DefaultInterval = 15 * time.Minute
	MemoryDB        = ":memory:"
)

// Default returns the configuration used without a config file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file. Relative jobs and db paths are
// resolved against the file's directory. Environment overrides apply last.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	cfg.Jobs = resolve(dir, cfg.Jobs)
	cfg.DB = resolve(dir, cfg.DB)
	return cfg, cfg.finish(os.Getenv)
}

// Load reads path when non-empty, otherwise starts from Default. Either
// way the environment overrides are applied.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	return cfg, cfg.finish(os.Getenv)
}

// Parse decodes a configuration document, applying defaults and the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.finish(os.Getenv)
}

func decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) finish(getenv func(string) string) error {
	if err := c.applyEnv(getenv); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Jobs == "" {
		c.Jobs = DefaultJobs
	}
	if c.DB == "" {
		c.DB = DefaultDB
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.Daemon.Interval <= 0 {
		c.Daemon.Interval = DefaultInterval
	}
}

// applyEnv overrides fields from PAGEWATCH_JOBS, PAGEWATCH_DB,
// PAGEWATCH_WORKERS, PAGEWATCH_LISTEN and LOG_LEVEL.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PAGEWATCH_JOBS"); v != "" {
		c.Jobs = v
	}
	if v := getenv("PAGEWATCH_DB"); v != "" {
		c.DB = v
	}
	if v := getenv("PAGEWATCH_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("PAGEWATCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: PAGEWATCH_WORKERS must be a positive integer, got %q", v)
		}
		c.Workers = n
	}
	return nil
}

// Validate checks values the loader cannot default.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.HTTP.MaxBytes < 0 {
		return fmt.Errorf("config: http.max_bytes must be >= 0")
	}
	if c.HTTP.PerHostRate < 0 {
		return fmt.Errorf("config: http.per_host_rate must be >= 0")
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Platform == "" {
			return fmt.Errorf("config: channels[%d]: platform is required", i)
		}
		name := ch.Name
		if name == "" {
			name = ch.Platform
		}
		if seen[name] {
			return fmt.Errorf("config: channels[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	return nil
}

// MemoryHistory reports whether history is kept in memory only.
func (c *Config) MemoryHistory() bool { return c.DB == MemoryDB }

// RunOnStart resolves the daemon start policy; unset means true.
func (c *Config) RunOnStart() bool {
	return c.Daemon.RunOnStart == nil || *c.Daemon.RunOnStart
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", s)
}

// Logger returns a JSON slog logger at the configured level, writing to
// stderr so reports on stdout stay clean.
func (c *Config) Logger() *slog.Logger {
	lvl, _ := ParseLevel(c.LogLevel)
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func resolve(dir, p string) string {
	if p == "" || p == MemoryDB || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
