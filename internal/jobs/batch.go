package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Batch is a named group of jobs dispatched together.
type Batch struct {
	ID            string
	Name          string
	Total         int
	AllowFailures bool
	CreatedAt     time.Time
	CancelledAt   *time.Time
	FinishedAt    *time.Time
}

// BatchStatus aggregates the job statuses of one batch.
type BatchStatus struct {
	Batch
	Pending  int
	Running  int
	Done     int
	Failed   int
	Canceled int
}

// Finished reports whether no job in the batch is still pending or running.
func (s *BatchStatus) Finished() bool {
	return s.Pending == 0 && s.Running == 0
}

// Cancelled reports whether the batch was cancelled.
func (b *Batch) Cancelled() bool {
	return b.CancelledAt != nil
}

const batchCols = `id, name, total, allow_failures, created_at, cancelled_at, finished_at`

func scanBatch(scan func(dest ...any) error) (*Batch, error) {
	var (
		b         Batch
		allow     int
		created   int64
		cancelled sql.NullInt64
		finished  sql.NullInt64
	)

	if err := scan(&b.ID, &b.Name, &b.Total, &allow, &created, &cancelled, &finished); err != nil {
		return nil, err
	}

	b.AllowFailures = allow != 0
	b.CreatedAt = time.Unix(0, created).UTC()
	b.CancelledAt = nullTime(cancelled)
	b.FinishedAt = nullTime(finished)

	return &b, nil
}

func nullTime(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}

	t := time.Unix(0, ni.Int64).UTC()

	return &t
}

func (q *Queue) batch(ctx context.Context, id string) (*Batch, error) {
	b, err := scanBatch(q.db.QueryRowContext(ctx, `SELECT `+batchCols+` FROM batches WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("jobs: batch %s: %w", id, ErrBatchNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("jobs: loading batch %s: %w", id, err)
	}

	return b, nil
}

// batchCancelled is the check a worker makes before running a claimed job.
func (q *Queue) batchCancelled(ctx context.Context, batchID string) (bool, error) {
	if batchID == "" {
		return false, nil
	}

	var cancelled sql.NullInt64

	err := q.db.QueryRowContext(ctx,
		`SELECT cancelled_at FROM batches WHERE id = ?`, batchID).Scan(&cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("jobs: checking batch %s cancellation: %w", batchID, err)
	}

	return cancelled.Valid, nil
}

// cancelBatch stamps cancelled_at (first cancel wins) and cancels every job
// still pending. Claimed jobs run to completion.
func (q *Queue) cancelBatch(ctx context.Context, batchID string) (int, error) {
	now := q.nowFunc().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("jobs: begin cancel: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		`UPDATE batches SET cancelled_at = coalesce(cancelled_at, ?) WHERE id = ?`, now, batchID)
	if err != nil {
		return 0, fmt.Errorf("jobs: cancelling batch %s: %w", batchID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("jobs: batch %s: %w", batchID, ErrBatchNotFound)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = '`+string(StatusCanceled)+`', completed_at = ?
		 WHERE batch_id = ? AND status = '`+string(StatusPending)+`'`, now, batchID)
	if err != nil {
		return 0, fmt.Errorf("jobs: cancelling pending jobs of %s: %w", batchID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("jobs: cancelled rows for %s: %w", batchID, err)
	}

	if err := markFinished(ctx, tx, batchID, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("jobs: commit cancel %s: %w", batchID, err)
	}

	return int(n), nil
}

type txExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// markFinished stamps finished_at once the batch has no in-flight jobs.
func markFinished(ctx context.Context, ex txExecer, batchID string, now int64) error {
	_, err := ex.ExecContext(ctx,
		`UPDATE batches SET finished_at = ?
		 WHERE id = ? AND finished_at IS NULL AND NOT EXISTS (
			SELECT 1 FROM jobs WHERE batch_id = ?
			AND status IN ('`+string(StatusPending)+`', '`+string(StatusClaimed)+`'))`,
		now, batchID, batchID)
	if err != nil {
		return fmt.Errorf("jobs: marking batch %s finished: %w", batchID, err)
	}

	return nil
}

func (q *Queue) batchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	b, err := q.batch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE batch_id = ? GROUP BY status`, batchID)
	if err != nil {
		return nil, fmt.Errorf("jobs: counting jobs of %s: %w", batchID, err)
	}
	defer rows.Close()

	st := &BatchStatus{Batch: *b}

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("jobs: scanning job counts: %w", err)
		}

		switch Status(status) {
		case StatusPending:
			st.Pending = n
		case StatusClaimed:
			st.Running = n
		case StatusDone:
			st.Done = n
		case StatusFailed:
			st.Failed = n
		case StatusCanceled:
			st.Canceled = n
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs: iterating job counts: %w", err)
	}

	return st, nil
}

func (q *Queue) listBatches(ctx context.Context, limit int) ([]Batch, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+batchCols+` FROM batches ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs: listing batches: %w", err)
	}
	defer rows.Close()

	var out []Batch

	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("jobs: scanning batch: %w", err)
		}

		out = append(out, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs: iterating batches: %w", err)
	}

	return out, nil
}

// outstanding counts jobs of any batch that are still pending or claimed.
func (q *Queue) outstanding(ctx context.Context) (int, error) {
	var n int

	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'claimed')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("jobs: counting outstanding jobs: %w", err)
	}

	return n, nil
}
