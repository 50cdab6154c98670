package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertResult reports the row an upsert landed on and whether it was new.
type UpsertResult struct {
	ID      string
	Created bool
}

// Repository is the natural-key persistence capability shared by every
// synced record kind. K is the natural key type: the upstream external id for
// legislatures, parties and deputies, model.ExpenseKey for expenses.
type Repository[K comparable, R any] interface {
	// Upsert inserts r or overwrites the row with the same natural key, in a
	// single statement, and stamps last_synced_at.
	Upsert(ctx context.Context, r R) (UpsertResult, error)
	// ExistsByKey reports whether a row with the natural key is stored.
	ExistsByKey(ctx context.Context, key K) (bool, error)
}

// Reconcilable is a Repository whose rows may be removed when they vanish
// from a complete upstream listing.
type Reconcilable[K comparable, R any] interface {
	Repository[K, R]
	DeleteMissing(ctx context.Context, seen []K, guard DeleteGuard) (int, error)
}

// table implements Repository for one table. The kind-specific parts are the
// EXISTS query, how a key becomes query arguments, and the upsert itself.
type table[K comparable, R any] struct {
	s         *Store
	name      string
	existsSQL string
	keyArgs   func(K) []any
	upsert    func(ctx context.Context, q querier, r R, newID string, now time.Time) (string, error)
}

func (t *table[K, R]) Upsert(ctx context.Context, r R) (UpsertResult, error) {
	return t.upsertWith(ctx, t.s.db, r)
}

func (t *table[K, R]) upsertWith(ctx context.Context, q querier, r R) (UpsertResult, error) {
	newID := uuid.NewString()

	id, err := t.upsert(ctx, q, r, newID, t.s.nowFunc())
	if err != nil {
		return UpsertResult{}, fmt.Errorf("store: upserting %s: %w", t.name, err)
	}

	return UpsertResult{ID: id, Created: id == newID}, nil
}

func (t *table[K, R]) ExistsByKey(ctx context.Context, key K) (bool, error) {
	var one int

	err := t.s.db.QueryRowContext(ctx, t.existsSQL, t.keyArgs(key)...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("store: checking %s existence: %w", t.name, err)
	}

	return true, nil
}

// upsertReturning runs an INSERT ... ON CONFLICT DO UPDATE ... RETURNING id
// statement and returns the id of the affected row. The id equals the
// freshly generated one exactly when the row was inserted.
func upsertReturning(ctx context.Context, q querier, query string, args ...any) (string, error) {
	var id string
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", err
	}

	return id, nil
}

func externalIDArgs(id int64) []any {
	return []any{id}
}
