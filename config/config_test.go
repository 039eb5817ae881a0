package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultJobs, cfg.Jobs)
	assert.Equal(t, DefaultDB, cfg.DB)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultInterval, cfg.Daemon.Interval)
	assert.True(t, cfg.RunOnStart())
	assert.False(t, cfg.MemoryHistory())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jobs: watch/jobs.yaml
db: /var/lib/pagewatch/history.db
log_level: debug
workers: 3
report_new: true
backoff: 250ms
http:
  user_agent: test-agent
  per_host_rate: 2
browser:
  block_resources: [images, fonts]
daemon:
  interval: 1h
  run_on_start: false
server:
  listen: 127.0.0.1:8090
channels:
  - name: console
    platform: stdout
    config:
      only_changes: true
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "watch/jobs.yaml"), cfg.Jobs, "relative to the config file")
	assert.Equal(t, "/var/lib/pagewatch/history.db", cfg.DB)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.ReportNew)
	assert.Equal(t, 250*time.Millisecond, cfg.Backoff)
	assert.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	assert.Equal(t, []string{"images", "fonts"}, cfg.Browser.BlockResources)
	assert.Equal(t, time.Hour, cfg.Daemon.Interval)
	assert.False(t, cfg.RunOnStart())
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Listen)
	require.Len(t, cfg.Channels, 1)
	assert.JSONEq(t, `{"only_changes": true}`, string(cfg.Channels[0].Config))
}

func TestEnvOverrides(t *testing.T) {
	// WHAT: Environment variables win over the file.
	t.Setenv("PAGEWATCH_DB", ":memory:")
	t.Setenv("PAGEWATCH_WORKERS", "2")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("PAGEWATCH_JOBS", "/etc/jobs.yaml")

	cfg, err := Parse([]byte("workers: 10\ndb: other.db\n"))
	require.NoError(t, err)
	assert.True(t, cfg.MemoryHistory())
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/etc/jobs.yaml", cfg.Jobs)
}

func TestEnvOverrides_BadWorkers(t *testing.T) {
	t.Setenv("PAGEWATCH_WORKERS", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "PAGEWATCH_WORKERS")
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte("log_level: loud\n"))
	assert.ErrorContains(t, err, "log level")

	_, err = Parse([]byte("channels:\n  - name: x\n"))
	assert.ErrorContains(t, err, "platform is required")

	_, err = Parse([]byte("channels:\n  - platform: stdout\n  - platform: stdout\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("workers: [1]\n"))
	assert.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "INFO": "INFO", "warning": "WARN", "error": "ERROR"} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, lvl.String())
	}
}
