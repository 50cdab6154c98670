package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/camara-sync/internal/camara"
	"github.com/tonimelisma/camara-sync/internal/jobs"
	"github.com/tonimelisma/camara-sync/internal/model"
	"github.com/tonimelisma/camara-sync/internal/store"
)

// SyncDeputy refreshes one deputy from the detail endpoint. A deputy the API
// does not know is skipped with a warning and the local row is left alone.
// Mapping failures wrap camara.ErrMalformedRecord; transport and persistence
// failures are returned for the caller to retry.
func (o *Orchestrator) SyncDeputy(ctx context.Context, externalID int64) (*Result, error) {
	r := o.begin("deputy")
	r.enter(StateListing)

	raw, err := o.src.Deputy(ctx, externalID)
	if camara.IsNotFound(err) {
		o.logger.Warn("deputy not found upstream, skipping",
			slog.Int64("external_id", externalID),
		)

		r.result.Stats.Skipped = 1
		r.result.Complete = true

		return r.done(), nil
	}

	if err != nil {
		return r.fail(fmt.Errorf("sync: fetching deputy %d: %w", externalID, err))
	}

	r.enter(StatePerRecordUpsert)

	d, err := camara.DeputyFromSource(raw)
	if err != nil {
		r.result.Stats.Failed = 1
		return r.fail(fmt.Errorf("sync: mapping deputy %d: %w", externalID, err))
	}

	res, err := o.store.Deputies().Upsert(ctx, d)
	if err != nil {
		r.result.Stats.Failed = 1
		return r.fail(fmt.Errorf("sync: upserting deputy %d: %w", externalID, err))
	}

	if res.Created {
		r.result.Stats.Created = 1
	} else {
		r.result.Stats.Updated = 1
	}

	r.result.Complete = true

	return r.done(), nil
}

// SyncDeputyExpenses pulls every page of a deputy's expenses for one year,
// bulk upserts them and recomputes the deputy's total. Malformed records are
// counted and skipped. A listing cut short by a failed page is still stored
// and then reported as an error so the unit is retried.
func (o *Orchestrator) SyncDeputyExpenses(ctx context.Context, externalID int64, year int) (*Result, error) {
	r := o.begin("expenses")

	dep, err := o.store.Deputies().DeputyByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return r.fail(fmt.Errorf("sync: expenses of %d: %w", externalID, ErrDeputyNotStored))
	}

	if err != nil {
		return r.fail(err)
	}

	r.enter(StateListing)

	pager := o.src.DeputyExpenses(ctx, externalID, year, 0)

	var batch []model.Expense

	for raw := range pager.Records() {
		e, mapErr := camara.ExpenseFromSource(raw)
		if mapErr != nil {
			r.mapFailed("expense", mapErr)
			continue
		}

		e.DeputyID = dep.ID
		batch = append(batch, e)
	}

	if err := ctx.Err(); err != nil {
		return r.fail(fmt.Errorf("sync: expenses of %d: %w", externalID, err))
	}

	r.enter(StatePerRecordUpsert)

	expenses := o.store.Expenses()

	bulk, err := expenses.UpsertAll(ctx, batch)
	r.result.Stats.Created = bulk.Created
	r.result.Stats.Updated = bulk.Updated

	if err != nil {
		return r.fail(fmt.Errorf("sync: storing expenses of %d for %d: %w", externalID, year, err))
	}

	if err := expenses.RecomputeTotal(ctx, dep.ID); err != nil {
		return r.fail(err)
	}

	r.result.Complete = pager.Complete()

	if !pager.Complete() {
		cause := pager.Err()
		if cause == nil {
			cause = errors.New("page cap reached")
		}

		return r.fail(fmt.Errorf("sync: expenses of %d for %d incomplete after %d pages: %w",
			externalID, year, pager.Pages(), cause))
	}

	return r.done(), nil
}

// EnsureFresh is the on-demand path: when the deputy is missing locally or
// its last sync is older than threshold, a refresh unit is enqueued. It
// reports whether a unit was enqueued; a refresh already in flight counts
// as not enqueued.
func (o *Orchestrator) EnsureFresh(ctx context.Context, externalID int64, threshold time.Duration) (bool, error) {
	if threshold <= 0 {
		threshold = o.cfg.StaleAfter
	}

	d, err := o.store.Deputies().DeputyByExternalID(ctx, externalID)

	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, err
	case !model.IsStale(d.LastSyncedAt, threshold, o.nowFunc()):
		return false, nil
	}

	if o.enq == nil {
		return false, errors.New("sync: no job scheduler configured")
	}

	ok, err := o.enq.Enqueue(ctx, "deputy-refresh",
		deputyUnit(KindDeputyRefresh, DeputyPayload{ExternalID: externalID}))
	if err != nil {
		return false, fmt.Errorf("sync: enqueueing refresh of %d: %w", externalID, err)
	}

	o.logger.Info("deputy refresh requested",
		slog.Int64("external_id", externalID),
		slog.Bool("enqueued", ok),
	)

	return ok, nil
}

// SyncStale dispatches refresh units for up to limit deputies whose last sync
// is older than threshold, never-synced first.
func (o *Orchestrator) SyncStale(ctx context.Context, threshold time.Duration, limit int) (string, int, error) {
	if threshold <= 0 {
		threshold = o.cfg.StaleAfter
	}

	if o.enq == nil {
		return "", 0, errors.New("sync: no job scheduler configured")
	}

	stale, err := o.store.SelectStaleDeputies(ctx, threshold, limit)
	if err != nil {
		return "", 0, err
	}

	units := make([]jobs.Unit, 0, len(stale))
	for _, d := range stale {
		units = append(units, deputyUnit(KindDeputyRefresh, DeputyPayload{ExternalID: d.ExternalID}))
	}

	batchID, n, err := o.enq.Dispatch(ctx, "stale-refresh", units, jobs.DispatchOpts{})
	if err != nil {
		return "", 0, fmt.Errorf("sync: dispatching stale refresh: %w", err)
	}

	o.logger.Info("stale refresh dispatched",
		slog.Int("stale", len(stale)),
		slog.Int("enqueued", n),
		slog.Duration("threshold", threshold),
	)

	return batchID, n, nil
}
