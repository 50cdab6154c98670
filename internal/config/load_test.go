package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[api]
base_url = "http://localhost:8080/api/v2/"
timeout = "10s"
max_attempts = 5
retry_delay = "1s"
max_pages = 50
page_size = 20
cache_ttl = "1m"
cache_size = 16
user_agent = "test-agent"

[database]
path = "/var/lib/camara/camara.db"

[sync]
stale_minutes = 30
chunk_size = 100
reconcile = false
big_delete_threshold = 200
big_delete_percentage = 20
big_delete_min_items = 5
current_legislature = 57
first_expense_year = 2023

[jobs]
workers = 8
max_attempts = 5
backoff = ["1s", "2s"]
timeout = "45s"
stagger = "0s"
poll_interval = "250ms"
reclaim_grace = "10s"

[schedule]
deputies = "0 * * * *"
expenses = ""
stale = "@every 10m"

[logging]
log_level = "debug"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api/v2/", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.TimeoutDuration())
	assert.Equal(t, time.Second, cfg.API.RetryDelayDuration())
	assert.Equal(t, time.Minute, cfg.API.CacheTTLDuration())
	assert.Equal(t, 5, cfg.API.MaxAttempts)
	assert.Equal(t, 20, cfg.API.PageSize)
	assert.Equal(t, "/var/lib/camara/camara.db", cfg.Database.Path)

	assert.Equal(t, 30*time.Minute, cfg.Sync.StaleAfter())
	assert.False(t, cfg.Sync.Reconcile)
	assert.Equal(t, 57, cfg.Sync.CurrentLegislature)
	assert.Equal(t, 2023, cfg.Sync.FirstExpenseYear)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Jobs.BackoffDurations())
	assert.Equal(t, 45*time.Second, cfg.Jobs.TimeoutDuration())
	assert.Zero(t, cfg.Jobs.StaggerDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.PollIntervalDuration())

	assert.Empty(t, cfg.Schedule.Expenses)
	assert.Equal(t, "@every 10m", cfg.Schedule.Stale)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[jobs]
workers = 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, def.Jobs.Backoff, cfg.Jobs.Backoff)
	assert.Equal(t, def.API, cfg.API)
	assert.True(t, cfg.Sync.Reconcile)
	assert.Equal(t, 500*time.Millisecond, cfg.Jobs.StaggerDuration())
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[api\nbase_url = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[api]
timeout = "fast"

[jobs]
workers = 0

[logging]
log_level = "verbose"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.timeout")
	assert.Contains(t, err.Error(), "jobs.workers")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestResolve_Layering(t *testing.T) {
	path := writeTestConfig(t, `
[api]
base_url = "http://file.example/api/v2/"

[database]
path = "/from/file.db"
`)

	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, r.Path)
	assert.Equal(t, "http://file.example/api/v2/", r.API.BaseURL)
	assert.Equal(t, "/from/file.db", r.Database.Path)

	r, err = Resolve(
		EnvOverrides{ConfigPath: path, DBPath: "/from/env.db", APIURL: "http://env.example/"},
		CLIOverrides{},
	)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", r.Database.Path)
	assert.Equal(t, "http://env.example/", r.API.BaseURL)

	r, err = Resolve(
		EnvOverrides{ConfigPath: "/does/not/exist.toml", DBPath: "/from/env.db"},
		CLIOverrides{ConfigPath: path, DBPath: "/from/cli.db"},
	)
	require.NoError(t, err)
	assert.Equal(t, path, r.Path)
	assert.Equal(t, "/from/cli.db", r.Database.Path)
}

func TestResolve_DefaultDBPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	r, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDBPath(), r.Database.Path)
	assert.Equal(t, "camara.db", filepath.Base(r.Database.Path))
}

func TestResolve_BadEnvURL(t *testing.T) {
	_, err := Resolve(EnvOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "none.toml"),
		APIURL:     "not a url",
		DBPath:     "/tmp/x.db",
	}, CLIOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_url")
}

func TestResolve_DBPathIsDirectory(t *testing.T) {
	_, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")},
		CLIOverrides{DBPath: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvDB, "")
	t.Setenv(EnvAPIURL, "http://localhost:9999/")

	env := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", env.ConfigPath)
	assert.Empty(t, env.DBPath)
	assert.Equal(t, "http://localhost:9999/", env.APIURL)
}

func TestRenderEffective(t *testing.T) {
	r := &Resolved{Config: DefaultConfig(), Path: "/etc/camara.toml"}
	r.Database.Path = "/data/camara.db"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	out := buf.String()
	assert.Contains(t, out, "# Effective configuration (file: /etc/camara.toml)")
	assert.Contains(t, out, "[api]")
	assert.Contains(t, out, `path = "/data/camara.db"`)
	assert.Contains(t, out, `deputies = "@hourly"`)

	// The rendered output must load back as a valid config.
	path := writeTestConfig(t, out)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r.Config, cfg)
}
