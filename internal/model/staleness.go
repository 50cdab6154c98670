package model

import "time"

// DefaultStaleAfter is the freshness window used when none is configured.
const DefaultStaleAfter = 60 * time.Minute

// IsStale reports whether a record last synced at lastSynced needs a refresh.
// A nil timestamp means the record was never synced. A record exactly
// threshold old is still fresh; it becomes stale strictly after.
func IsStale(lastSynced *time.Time, threshold time.Duration, now time.Time) bool {
	if lastSynced == nil {
		return true
	}

	return now.Sub(*lastSynced) > threshold
}
