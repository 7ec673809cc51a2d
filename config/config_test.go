package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redbeam.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Execution.Workers)
	assert.Equal(t, 1, cfg.Execution.PollIntervalSeconds)
	assert.Equal(t, 100000, cfg.Execution.MaxRows)
	assert.Equal(t, 168, cfg.Execution.RetentionHours)
	assert.Equal(t, 30, cfg.Scheduler.IntervalSeconds)
	assert.Contains(t, cfg.Runners.Enabled, "pg")
	assert.Contains(t, cfg.Runners.Enabled, "sqlite")
	assert.Contains(t, cfg.Runners.Enabled, "elasticsearch")
	assert.False(t, cfg.Log.JSON)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redbeam.toml")
	content := `
[database]
path = "/var/lib/redbeam/meta.db"

[execution]
workers = 8
max_rows = 500

[scheduler]
interval_seconds = 5

[runners]
enabled = ["pg"]
additional = ["elasticsearch"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/redbeam/meta.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Execution.Workers)
	assert.Equal(t, 500, cfg.Execution.MaxRows)
	// Unset keys keep their defaults.
	assert.Equal(t, 1, cfg.Execution.PollIntervalSeconds)
	assert.Equal(t, 5, cfg.Scheduler.IntervalSeconds)
	assert.Equal(t, []string{"pg"}, cfg.Runners.Enabled)
	assert.Equal(t, []string{"elasticsearch"}, cfg.Runners.Additional)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("REDBEAM_EXECUTION_WORKERS", "16")
	t.Setenv("REDBEAM_DATABASE_PATH", "/tmp/env.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Execution.Workers)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Execution.PollInterval())
	assert.Equal(t, 168*time.Hour, cfg.Execution.Retention())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval())
}
