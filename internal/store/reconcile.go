package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Big-delete protection defaults.
const (
	DefaultBigDeleteMinItems   = 10
	DefaultBigDeleteMaxCount   = 1000
	DefaultBigDeleteMaxPercent = 50.0

	percentMultiplier = 100
)

// DeleteGuard stops reconciliation from wiping out most of a table when the
// upstream listing comes back suspiciously short.
type DeleteGuard struct {
	MinItems   int     // below this many stored rows the guard does not apply
	MaxCount   int     // more deletions than this trips the guard
	MaxPercent float64 // a larger share of stored rows trips the guard
	Force      bool    // skip the guard entirely
}

// DefaultDeleteGuard returns the default big-delete thresholds.
func DefaultDeleteGuard() DeleteGuard {
	return DeleteGuard{
		MinItems:   DefaultBigDeleteMinItems,
		MaxCount:   DefaultBigDeleteMaxCount,
		MaxPercent: DefaultBigDeleteMaxPercent,
	}
}

// Triggered reports whether deleting deleteCount of total rows trips the guard.
func (g DeleteGuard) Triggered(deleteCount, total int) bool {
	if g.Force || total == 0 {
		return false
	}

	if total < g.MinItems {
		return false
	}

	if deleteCount > g.MaxCount {
		return true
	}

	percentage := float64(deleteCount) / float64(total) * percentMultiplier

	return percentage > g.MaxPercent
}

// DeleteMissing removes every stored deputy whose external id is not in seen,
// cascading to their expenses, and returns how many were removed. Callers
// pass the id set of a complete listing only. When the guard trips nothing
// is deleted and ErrBigDeleteTriggered is returned.
func (r *DeputyRepo) DeleteMissing(ctx context.Context, seen []int64, guard DeleteGuard) (int, error) {
	if seen == nil {
		seen = []int64{}
	}

	seenJSON, err := json.Marshal(seen)
	if err != nil {
		return 0, fmt.Errorf("store: encoding seen ids: %w", err)
	}

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: beginning reconcile transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	total, missing, err := countMissing(ctx, tx, string(seenJSON))
	if err != nil {
		return 0, err
	}

	if missing == 0 {
		return 0, nil
	}

	if guard.Triggered(missing, total) {
		r.s.logger.Warn("big-delete protection triggered",
			slog.Int("stored", total),
			slog.Int("missing", missing),
			slog.Int("max_count", guard.MaxCount),
			slog.Float64("max_percent", guard.MaxPercent),
		)

		return 0, fmt.Errorf("store: removing %d of %d deputies: %w", missing, total, ErrBigDeleteTriggered)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM deputies WHERE external_id NOT IN (SELECT value FROM json_each(?))`,
		string(seenJSON))
	if err != nil {
		return 0, fmt.Errorf("store: deleting missing deputies: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: deleting missing deputies rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: committing reconcile: %w", err)
	}

	r.s.logger.Info("reconciled deputies",
		slog.Int("stored", total),
		slog.Int64("removed", n),
	)

	return int(n), nil
}

func countMissing(ctx context.Context, tx *sql.Tx, seenJSON string) (total, missing int, err error) {
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*),
		   COALESCE(SUM(external_id NOT IN (SELECT value FROM json_each(?))), 0)
		 FROM deputies`, seenJSON).Scan(&total, &missing)
	if err != nil {
		return 0, 0, fmt.Errorf("store: counting missing deputies: %w", err)
	}

	return total, missing, nil
}
