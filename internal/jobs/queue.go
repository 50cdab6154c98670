// Package jobs is a durable SQLite-backed job queue with batches, retries
// and a worker pool. It shares the store's *sql.DB (sole writer via
// SetMaxOpenConns(1)); delivery is at-least-once.
//
// Lifecycle of a job row:
//
//	pending → claimed → done | failed | canceled
//	claimed → pending (retry with backoff, or reclaim after a crashed worker)
//
// Status transitions are guarded in the UPDATE's WHERE clause, so a row only
// moves out of "claimed" once.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Status is the lifecycle state of a job row.
type Status string

// Job statuses.
const (
	StatusPending  Status = "pending"
	StatusClaimed  Status = "claimed"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Sentinel errors.
var (
	ErrNotClaimed    = errors.New("jobs: job is not claimed")
	ErrBatchNotFound = errors.New("jobs: batch not found")
	ErrNoHandler     = errors.New("jobs: no handler registered for kind")
)

// Unit is one piece of work to enqueue. An empty UniqueKey disables
// in-flight deduplication for the unit.
type Unit struct {
	Kind      string
	UniqueKey string
	Payload   json.RawMessage
	Tags      []string
}

// Job is a claimed (or inspected) job row.
type Job struct {
	ID          int64
	BatchID     string
	Kind        string
	UniqueKey   string
	Payload     json.RawMessage
	Tags        []string
	Status      Status
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	Timeout     time.Duration
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	LastError   string
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("jobs: decoding %s payload for job %d: %w", j.Kind, j.ID, err))
	}

	return nil
}

// Queue manages the jobs table.
type Queue struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewQueue creates a Queue on a database already migrated by the store.
func NewQueue(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{db: db, logger: logger, nowFunc: time.Now}
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// enqueue inserts one pending row. It returns false without error when an
// in-flight row with the same unique key already exists.
func (q *Queue) enqueue(
	ctx context.Context, ex execer, batchID string, u Unit,
	availableAt time.Time, maxAttempts int, timeout time.Duration,
) (bool, error) {
	payload := []byte(u.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	tags := u.Tags
	if tags == nil {
		tags = []string{}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return false, fmt.Errorf("jobs: encoding tags: %w", err)
	}

	var uniqueKey any
	if u.UniqueKey != "" {
		uniqueKey = u.UniqueKey
	}

	var id int64

	err = ex.QueryRowContext(ctx,
		`INSERT INTO jobs
			(batch_id, kind, unique_key, payload, tags, status, max_attempts,
			 available_at, timeout_ns, created_at)
			VALUES (?, ?, ?, ?, ?, '`+string(StatusPending)+`', ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
			RETURNING id`,
		batchID, u.Kind, uniqueKey, string(payload), string(tagsJSON), maxAttempts,
		availableAt.UnixNano(), int64(timeout), q.nowFunc().UnixNano(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		q.logger.Debug("job already in flight",
			slog.String("kind", u.Kind),
			slog.String("unique_key", u.UniqueKey),
		)

		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("jobs: enqueue %s: %w", u.Kind, err)
	}

	return true, nil
}

const jobCols = `id, coalesce(batch_id, ''), kind, coalesce(unique_key, ''), payload, tags,
	status, attempts, max_attempts, available_at, timeout_ns, created_at, claimed_at,
	coalesce(last_error, '')`

// Claim atomically moves the oldest ready pending job to claimed and bumps
// its attempt count. It returns nil, nil when nothing is ready.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := q.nowFunc().UnixNano()

	row := q.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = '`+string(StatusClaimed)+`', claimed_at = ?, attempts = attempts + 1
		 WHERE id = (
			SELECT id FROM jobs
			WHERE status = '`+string(StatusPending)+`' AND available_at <= ?
			ORDER BY available_at, id LIMIT 1)
		 RETURNING `+jobCols, now, now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("jobs: claim: %w", err)
	}

	return job, nil
}

// Get returns the job row with the given id.
func (q *Queue) Get(ctx context.Context, id int64) (*Job, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("jobs: get %d: %w", id, err)
	}

	return job, nil
}

// Complete marks a claimed job done.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	return q.finish(ctx, id, StatusDone, "")
}

// Fail marks a claimed job permanently failed.
func (q *Queue) Fail(ctx context.Context, id int64, errMsg string) error {
	return q.finish(ctx, id, StatusFailed, errMsg)
}

// Cancel marks a claimed job canceled without running it.
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	return q.finish(ctx, id, StatusCanceled, "")
}

func (q *Queue) finish(ctx context.Context, id int64, status Status, errMsg string) error {
	var lastErr any
	if errMsg != "" {
		lastErr = errMsg
	}

	now := q.nowFunc().UnixNano()

	var batchID string

	err := q.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, last_error = coalesce(?, last_error)
		 WHERE id = ? AND status = '`+string(StatusClaimed)+`'
		 RETURNING coalesce(batch_id, '')`,
		string(status), now, lastErr, id).Scan(&batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("jobs: job %d: %w", id, ErrNotClaimed)
	}

	if err != nil {
		return fmt.Errorf("jobs: mark %d %s: %w", id, status, err)
	}

	if batchID == "" {
		return nil
	}

	return markFinished(ctx, q.db, batchID, now)
}

// Retry returns a claimed job to pending, available again at availableAt.
func (q *Queue) Retry(ctx context.Context, id int64, availableAt time.Time, errMsg string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = '`+string(StatusPending)+`', claimed_at = NULL,
		   available_at = ?, last_error = ?
		 WHERE id = ? AND status = '`+string(StatusClaimed)+`'`,
		availableAt.UnixNano(), errMsg, id)
	if err != nil {
		return fmt.Errorf("jobs: retry %d: %w", id, err)
	}

	return requireOneRow(res, id)
}

// ReclaimStale returns claimed jobs whose claim is older than their timeout
// plus grace to pending. These are jobs whose worker died mid-run.
func (q *Queue) ReclaimStale(ctx context.Context, grace time.Duration) (int, error) {
	now := q.nowFunc().UnixNano()

	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = '`+string(StatusPending)+`', claimed_at = NULL, available_at = ?
		 WHERE status = '`+string(StatusClaimed)+`' AND claimed_at + timeout_ns + ? < ?`,
		now, int64(grace), now)
	if err != nil {
		return 0, fmt.Errorf("jobs: reclaim stale: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("jobs: reclaim stale rows affected: %w", err)
	}

	if n > 0 {
		q.logger.Warn("reclaimed stale jobs", slog.Int64("count", n))
	}

	return int(n), nil
}

func requireOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobs: rows affected for %d: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("jobs: job %d: %w", id, ErrNotClaimed)
	}

	return nil
}

func scanJob(row *sql.Row) (*Job, error) {
	var (
		j         Job
		payload   string
		tags      string
		status    string
		available int64
		timeout   int64
		created   int64
		claimed   sql.NullInt64
	)

	err := row.Scan(&j.ID, &j.BatchID, &j.Kind, &j.UniqueKey, &payload, &tags,
		&status, &j.Attempts, &j.MaxAttempts, &available, &timeout, &created, &claimed,
		&j.LastError)
	if err != nil {
		return nil, err
	}

	j.Payload = json.RawMessage(payload)
	j.Status = Status(status)
	j.AvailableAt = time.Unix(0, available).UTC()
	j.Timeout = time.Duration(timeout)
	j.CreatedAt = time.Unix(0, created).UTC()

	if claimed.Valid {
		t := time.Unix(0, claimed.Int64).UTC()
		j.ClaimedAt = &t
	}

	if err := json.Unmarshal([]byte(tags), &j.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}

	return &j, nil
}

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
