package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StaleDeputy is a refresh candidate.
type StaleDeputy struct {
	ID           string
	ExternalID   int64
	LastSyncedAt *time.Time
}

// SelectStaleDeputies returns up to limit deputies whose last sync is more
// than threshold before now: never-synced rows first, then oldest first.
// limit <= 0 returns every stale deputy.
func (s *Store) SelectStaleDeputies(ctx context.Context, threshold time.Duration, limit int) ([]StaleDeputy, error) {
	if limit <= 0 {
		limit = -1
	}

	cutoff := s.nowFunc().Add(-threshold).UnixNano()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, last_synced_at FROM deputies
		 WHERE last_synced_at IS NULL OR last_synced_at < ?
		 ORDER BY last_synced_at IS NOT NULL, last_synced_at, external_id
		 LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("store: selecting stale deputies: %w", err)
	}
	defer rows.Close()

	var out []StaleDeputy

	for rows.Next() {
		var (
			d      StaleDeputy
			synced sql.NullInt64
		)

		if err := rows.Scan(&d.ID, &d.ExternalID, &synced); err != nil {
			return nil, fmt.Errorf("store: scanning stale deputy: %w", err)
		}

		d.LastSyncedAt = timePtr(synced)
		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating stale deputies: %w", err)
	}

	return out, nil
}
