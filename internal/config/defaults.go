package config

// Default values for configuration options. These are "layer 0" of the
// override chain and match the package defaults of the components they feed.
const (
	defaultBaseURL             = "https://dadosabertos.camara.leg.br/api/v2/"
	defaultAPITimeout          = "30s"
	defaultAPIMaxAttempts      = 3
	defaultRetryDelay          = "200ms"
	defaultMaxPages            = 1000
	defaultPageSize            = 100
	defaultCacheTTL            = "5m"
	defaultCacheSize           = 256
	defaultUserAgent           = "camara-sync/0.1"
	defaultStaleMinutes        = 60
	defaultChunkSize           = 50
	defaultBigDeleteThreshold  = 1000
	defaultBigDeletePercentage = 50
	defaultBigDeleteMinItems   = 10
	defaultFirstExpenseYear    = 2019
	defaultWorkers             = 4
	defaultJobMaxAttempts      = 3
	defaultJobTimeout          = "120s"
	defaultStagger             = "500ms"
	defaultPollInterval        = "1s"
	defaultReclaimGrace        = "30s"
	defaultDeputiesSchedule    = "@hourly"
	defaultExpensesSchedule    = "30 3 * * *"
	defaultStaleSchedule       = "*/15 * * * *"
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
)

var defaultBackoff = []string{"10s", "30s", "60s"}

// DefaultConfig returns a Config populated with all default values. It is
// both the starting point for TOML decoding (so unset fields keep their
// defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		API:      defaultAPIConfig(),
		Sync:     defaultSyncConfig(),
		Jobs:     defaultJobsConfig(),
		Schedule: defaultScheduleConfig(),
		Logging:  defaultLoggingConfig(),
	}
}

func defaultAPIConfig() APIConfig {
	return APIConfig{
		BaseURL:     defaultBaseURL,
		Timeout:     defaultAPITimeout,
		MaxAttempts: defaultAPIMaxAttempts,
		RetryDelay:  defaultRetryDelay,
		MaxPages:    defaultMaxPages,
		PageSize:    defaultPageSize,
		CacheTTL:    defaultCacheTTL,
		CacheSize:   defaultCacheSize,
		UserAgent:   defaultUserAgent,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		StaleMinutes:        defaultStaleMinutes,
		ChunkSize:           defaultChunkSize,
		Reconcile:           true,
		BigDeleteThreshold:  defaultBigDeleteThreshold,
		BigDeletePercentage: defaultBigDeletePercentage,
		BigDeleteMinItems:   defaultBigDeleteMinItems,
		FirstExpenseYear:    defaultFirstExpenseYear,
	}
}

func defaultJobsConfig() JobsConfig {
	return JobsConfig{
		Workers:      defaultWorkers,
		MaxAttempts:  defaultJobMaxAttempts,
		Backoff:      append([]string(nil), defaultBackoff...),
		Timeout:      defaultJobTimeout,
		Stagger:      defaultStagger,
		PollInterval: defaultPollInterval,
		ReclaimGrace: defaultReclaimGrace,
	}
}

func defaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Deputies: defaultDeputiesSchedule,
		Expenses: defaultExpensesSchedule,
		Stale:    defaultStaleSchedule,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
