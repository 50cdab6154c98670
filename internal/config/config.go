// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for camara-sync. Values are layered:
// defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Durations are Go duration strings ("30s", "5m") validated at load time and
// read back through the typed accessors.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Sync     SyncConfig     `toml:"sync"`
	Jobs     JobsConfig     `toml:"jobs"`
	Schedule ScheduleConfig `toml:"schedule"`
	Logging  LoggingConfig  `toml:"logging"`
}

// APIConfig controls the Chamber of Deputies API client.
type APIConfig struct {
	BaseURL     string `toml:"base_url"`
	Timeout     string `toml:"timeout"`
	MaxAttempts int    `toml:"max_attempts"`
	RetryDelay  string `toml:"retry_delay"`
	MaxPages    int    `toml:"max_pages"`
	PageSize    int    `toml:"page_size"`
	CacheTTL    string `toml:"cache_ttl"`
	CacheSize   int    `toml:"cache_size"`
	UserAgent   string `toml:"user_agent"`
}

// DatabaseConfig locates the SQLite database. An empty path means the
// platform data directory.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// SyncConfig controls the orchestrator: freshness window, bulk chunking,
// reconciliation and its big-delete protection.
type SyncConfig struct {
	StaleMinutes        int  `toml:"stale_minutes"`
	ChunkSize           int  `toml:"chunk_size"`
	Reconcile           bool `toml:"reconcile"`
	BigDeleteThreshold  int  `toml:"big_delete_threshold"`
	BigDeletePercentage int  `toml:"big_delete_percentage"`
	BigDeleteMinItems   int  `toml:"big_delete_min_items"`
	CurrentLegislature  int  `toml:"current_legislature"`
	FirstExpenseYear    int  `toml:"first_expense_year"`
}

// JobsConfig controls the durable job queue and its worker pool. A zero
// stagger dispatches every unit immediately.
type JobsConfig struct {
	Workers      int      `toml:"workers"`
	MaxAttempts  int      `toml:"max_attempts"`
	Backoff      []string `toml:"backoff"`
	Timeout      string   `toml:"timeout"`
	Stagger      string   `toml:"stagger"`
	PollInterval string   `toml:"poll_interval"`
	ReclaimGrace string   `toml:"reclaim_grace"`
}

// ScheduleConfig holds the cron expressions used by "serve". An empty
// expression disables that trigger.
type ScheduleConfig struct {
	Deputies string `toml:"deputies"`
	Expenses string `toml:"expenses"`
	Stale    string `toml:"stale"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath string // --config
	DBPath     string // --db
}
