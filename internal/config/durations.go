package config

import "time"

// parseDurationOr returns the parsed duration, or fallback when s does not
// parse. Loaded configs are validated, so the fallback only applies to
// hand-built values.
func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}

// TimeoutDuration is the per-attempt HTTP timeout.
func (a APIConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(a.Timeout, 30*time.Second)
}

// RetryDelayDuration is the fixed delay between retries.
func (a APIConfig) RetryDelayDuration() time.Duration {
	return parseDurationOr(a.RetryDelay, 200*time.Millisecond)
}

// CacheTTLDuration is the lifetime of cached listing pages.
func (a APIConfig) CacheTTLDuration() time.Duration {
	return parseDurationOr(a.CacheTTL, 5*time.Minute)
}

// StaleAfter is the freshness window for deputies.
func (s SyncConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleMinutes) * time.Minute
}

// BackoffDurations returns the retry delays in order.
func (j JobsConfig) BackoffDurations() []time.Duration {
	out := make([]time.Duration, 0, len(j.Backoff))
	for _, b := range j.Backoff {
		out = append(out, parseDurationOr(b, 0))
	}

	return out
}

// TimeoutDuration is the per-job wall clock limit.
func (j JobsConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(j.Timeout, 0)
}

// StaggerDuration is the per-unit dispatch delay increment; zero disables it.
func (j JobsConfig) StaggerDuration() time.Duration {
	return parseDurationOr(j.Stagger, 0)
}

// PollIntervalDuration is how often idle workers look for ready jobs.
func (j JobsConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(j.PollInterval, 0)
}

// ReclaimGraceDuration is the slack added to a job's timeout before a claim
// is considered abandoned.
func (j JobsConfig) ReclaimGraceDuration() time.Duration {
	return parseDurationOr(j.ReclaimGrace, 0)
}
