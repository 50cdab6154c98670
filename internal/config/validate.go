package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// Validation range constants.
const (
	minAttempts      = 1
	maxAttempts      = 10
	minPageSize      = 1
	maxPageSize      = 100
	minWorkers       = 1
	maxWorkers       = 64
	minChunkSize     = 1
	maxChunkSize     = 500
	minPercentage    = 1
	maxPercentage    = 100
	minBigDelete     = 1
	minExpenseYear   = 2008
	minAPITimeout    = time.Second
	minJobTimeout    = time.Second
	minPollInterval  = 10 * time.Millisecond
	firstLegislature = 1
	minStaleMinutes  = 1
	minCacheSize     = 1
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateJobs(&cfg.Jobs)...)
	errs = append(errs, validateSchedule(&cfg.Schedule)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the
// environment and CLI layers have been applied.
func ValidateResolved(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBaseURL(cfg.API.BaseURL)...)

	if cfg.Database.Path == "" {
		errs = append(errs, errors.New("database.path: must not be empty"))
	} else if info, err := os.Stat(cfg.Database.Path); err == nil && info.IsDir() {
		errs = append(errs, fmt.Errorf("database.path: %q is a directory", cfg.Database.Path))
	}

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	errs = append(errs, validateBaseURL(a.BaseURL)...)
	errs = append(errs, validateDurationMin("api.timeout", a.Timeout, minAPITimeout)...)
	errs = append(errs, validateDurationMin("api.retry_delay", a.RetryDelay, 0)...)
	errs = append(errs, validateDurationMin("api.cache_ttl", a.CacheTTL, 0)...)
	errs = append(errs, validateRange("api.max_attempts", a.MaxAttempts, minAttempts, maxAttempts)...)
	errs = append(errs, validateRange("api.page_size", a.PageSize, minPageSize, maxPageSize)...)

	if a.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("api.max_pages: must be >= 1, got %d", a.MaxPages))
	}

	if a.CacheSize < minCacheSize {
		errs = append(errs, fmt.Errorf("api.cache_size: must be >= %d, got %d", minCacheSize, a.CacheSize))
	}

	return errs
}

func validateBaseURL(raw string) []error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return []error{fmt.Errorf("api.base_url: must be an absolute http(s) URL, got %q", raw)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.StaleMinutes < minStaleMinutes {
		errs = append(errs, fmt.Errorf("sync.stale_minutes: must be >= %d, got %d",
			minStaleMinutes, s.StaleMinutes))
	}

	errs = append(errs, validateRange("sync.chunk_size", s.ChunkSize, minChunkSize, maxChunkSize)...)

	if s.BigDeleteThreshold < minBigDelete {
		errs = append(errs, fmt.Errorf("sync.big_delete_threshold: must be >= %d, got %d",
			minBigDelete, s.BigDeleteThreshold))
	}

	errs = append(errs, validateRange("sync.big_delete_percentage",
		s.BigDeletePercentage, minPercentage, maxPercentage)...)

	if s.BigDeleteMinItems < minBigDelete {
		errs = append(errs, fmt.Errorf("sync.big_delete_min_items: must be >= %d, got %d",
			minBigDelete, s.BigDeleteMinItems))
	}

	if s.CurrentLegislature != 0 && s.CurrentLegislature < firstLegislature {
		errs = append(errs, fmt.Errorf("sync.current_legislature: must be 0 (ask the API) or positive, got %d",
			s.CurrentLegislature))
	}

	if s.FirstExpenseYear < minExpenseYear {
		errs = append(errs, fmt.Errorf("sync.first_expense_year: must be >= %d, got %d",
			minExpenseYear, s.FirstExpenseYear))
	}

	return errs
}

func validateJobs(j *JobsConfig) []error {
	var errs []error

	errs = append(errs, validateRange("jobs.workers", j.Workers, minWorkers, maxWorkers)...)
	errs = append(errs, validateRange("jobs.max_attempts", j.MaxAttempts, minAttempts, maxAttempts)...)

	if len(j.Backoff) == 0 {
		errs = append(errs, errors.New("jobs.backoff: must list at least one delay"))
	}

	for i, b := range j.Backoff {
		errs = append(errs, validateDurationMin(fmt.Sprintf("jobs.backoff[%d]", i), b, 0)...)
	}

	errs = append(errs, validateDurationMin("jobs.timeout", j.Timeout, minJobTimeout)...)
	errs = append(errs, validateDurationMin("jobs.stagger", j.Stagger, 0)...)
	errs = append(errs, validateDurationMin("jobs.poll_interval", j.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationMin("jobs.reclaim_grace", j.ReclaimGrace, 0)...)

	return errs
}

func validateSchedule(s *ScheduleConfig) []error {
	var errs []error

	for _, entry := range []struct{ field, spec string }{
		{"schedule.deputies", s.Deputies},
		{"schedule.expenses", s.Expenses},
		{"schedule.stale", s.Stale},
	} {
		if entry.spec == "" {
			continue
		}

		if _, err := cron.ParseStandard(entry.spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid cron expression %q: %w", entry.field, entry.spec, err))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q",
			l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q",
			l.LogFormat))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateRange(field string, n, lo, hi int) []error {
	if n < lo || n > hi {
		return []error{fmt.Errorf("%s: must be between %d and %d, got %d", field, lo, hi, n)}
	}

	return nil
}

// validateDurationMin checks that a duration string parses and meets a minimum.
func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
