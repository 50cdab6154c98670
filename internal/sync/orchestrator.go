// Package sync pulls deputies, expenses and reference data from the Chamber
// of Deputies API into the local store. A full deputies run walks the
// listing, upserts every record, and optionally reconciles away deputies
// that vanished upstream; per-deputy detail and expense syncs run as batch
// jobs.
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

// DefaultFirstExpenseYear is the first year covered by full expense syncs.
const DefaultFirstExpenseYear = 2019

// Config holds orchestrator settings. Zero values take defaults.
type Config struct {
	// Legislature pins the legislature to sync; 0 asks the API.
	Legislature      int
	StaleAfter       time.Duration
	FirstExpenseYear int
	DeleteGuard      store.DeleteGuard
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = model.DefaultStaleAfter
	}

	if c.FirstExpenseYear <= 0 {
		c.FirstExpenseYear = DefaultFirstExpenseYear
	}

	if c.DeleteGuard == (store.DeleteGuard{}) {
		c.DeleteGuard = store.DefaultDeleteGuard()
	}

	return c
}

// Orchestrator runs syncs against a Source into a Store.
type Orchestrator struct {
	src     Source
	store   *store.Store
	enq     Enqueuer
	cfg     Config
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New creates an Orchestrator. enq may be nil when no jobs are dispatched
// (single-record refreshes).
func New(src Source, st *store.Store, enq Enqueuer, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		src:     src,
		store:   st,
		enq:     enq,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// run tracks the state machine of one sync run.
type run struct {
	o      *Orchestrator
	name   string
	start  time.Time
	result *Result

	unmapped int
}

func (o *Orchestrator) begin(name string) *run {
	o.logger.Info("sync run starting", slog.String("run", name))

	return &run{
		o:      o,
		name:   name,
		start:  time.Now(),
		result: &Result{State: StateStart},
	}
}

func (r *run) enter(s State) {
	r.o.logger.Debug("sync state",
		slog.String("run", r.name),
		slog.String("from", r.result.State.String()),
		slog.String("to", s.String()),
	)

	r.result.State = s
}

func (r *run) done() *Result {
	r.enter(StateDone)
	r.result.Duration = time.Since(r.start)

	st := r.result.Stats
	r.o.logger.Info("sync run done",
		slog.String("run", r.name),
		slog.Int("created", st.Created),
		slog.Int("updated", st.Updated),
		slog.Int("failed", st.Failed),
		slog.Int("removed", st.Removed),
		slog.Int("skipped", st.Skipped),
		slog.Int64("duration_ms", r.result.Duration.Milliseconds()),
	)

	return r.result
}

func (r *run) fail(err error) (*Result, error) {
	r.enter(StateFailed)
	r.result.Duration = time.Since(r.start)

	r.o.logger.Error("sync run failed",
		slog.String("run", r.name),
		slog.String("error", err.Error()),
	)

	return r.result, err
}

// recordUpsert folds one upsert outcome into the stats. It returns a non-nil
// error only when the store itself is gone and the run must stop.
func (r *run) recordUpsert(res store.UpsertResult, err error, kind string, externalID int64) error {
	if err != nil {
		if store.IsUnavailable(err) {
			return err
		}

		r.result.Stats.Failed++
		r.o.logger.Warn("upsert failed",
			slog.String("kind", kind),
			slog.Int64("external_id", externalID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if res.Created {
		r.result.Stats.Created++
	} else {
		r.result.Stats.Updated++
	}

	return nil
}

func (r *run) mapFailed(kind string, err error) {
	r.unmapped++
	r.result.Stats.Failed++
	r.o.logger.Warn("skipping malformed record",
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// DeputiesOpts selects what a full deputies run does besides upserting the
// listing.
type DeputiesOpts struct {
	// Reconcile removes stored deputies absent from a complete listing.
	Reconcile bool
	// Force bypasses big-delete protection during reconciliation.
	Force bool
	// Details dispatches a detail unit per listed deputy.
	Details bool
	// Expenses dispatches expense units: through the detail units when
	// Details is set, directly otherwise.
	Expenses bool
	// Year limits expense units to one year; 0 uses the default range.
	Year int
}

// SyncDeputies walks the current legislature's deputies listing and upserts
// every record. Per-record mapping and persistence failures are counted, not
// fatal; a lost store connection or canceled context fails the run. A refused
// or failed reconciliation is reported in Result.ReconcileError and the run
// goes on to dispatch its batches.
func (o *Orchestrator) SyncDeputies(ctx context.Context, opts DeputiesOpts) (*Result, error) {
	r := o.begin("deputies")

	legislature := o.cfg.Legislature
	if legislature <= 0 {
		legislature = o.src.CurrentLegislature(ctx, o.nowFunc())
	}

	r.enter(StateListing)
	pager := o.src.CurrentDeputies(ctx, legislature)
	repo := o.store.Deputies()

	var seen []int64

	for raw := range pager.Records() {
		if r.result.State != StatePerRecordUpsert {
			r.enter(StatePerRecordUpsert)
		}

		d, err := camara.DeputyFromSource(raw)
		if err != nil {
			r.mapFailed("deputy", err)
			continue
		}

		seen = append(seen, d.ExternalID)

		res, err := repo.Upsert(ctx, d)
		if fatal := r.recordUpsert(res, err, "deputy", d.ExternalID); fatal != nil {
			return r.fail(fmt.Errorf("sync: upserting deputy %d: %w", d.ExternalID, fatal))
		}

		o.logger.Debug("deputy upserted",
			slog.Int64("external_id", d.ExternalID),
			slog.Bool("created", res.Created),
		)
	}

	if err := ctx.Err(); err != nil {
		return r.fail(fmt.Errorf("sync: deputies listing: %w", err))
	}

	r.result.Complete = pager.Complete()

	if opts.Reconcile {
		if err := o.reconcile(ctx, r, pager, seen, opts.Force); err != nil {
			return r.fail(err)
		}
	}

	if err := o.fanOut(ctx, r, seen, opts); err != nil {
		return r.fail(err)
	}

	return r.done(), nil
}

func (o *Orchestrator) reconcile(ctx context.Context, r *run, pager *camara.Pager, seen []int64, force bool) error {
	if !pager.Complete() {
		attrs := []any{slog.Int("pages", pager.Pages())}
		if err := pager.Err(); err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}

		o.logger.Warn("listing incomplete, skipping reconciliation", attrs...)

		return nil
	}

	// An unmappable record has no trustworthy id, so absence from seen
	// proves nothing.
	if r.unmapped > 0 {
		o.logger.Warn("listing had malformed records, skipping reconciliation",
			slog.Int("malformed", r.unmapped))

		return nil
	}

	r.enter(StateReconcile)

	guard := o.cfg.DeleteGuard
	guard.Force = force

	removed, err := o.store.Deputies().DeleteMissing(ctx, seen, guard)
	if err != nil {
		if store.IsUnavailable(err) {
			return fmt.Errorf("sync: reconciling deputies: %w", err)
		}

		// The delete transaction rolled back; the upserts above stand.
		r.result.ReconcileError = err.Error()
		o.logger.Warn("reconciliation failed, no deputies removed",
			slog.Int("seen", len(seen)),
			slog.String("error", err.Error()),
		)

		return nil
	}

	r.result.Stats.Removed = removed
	r.result.Reconciled = true

	return nil
}

// fanOut dispatches the per-deputy batch units requested by opts.
func (o *Orchestrator) fanOut(ctx context.Context, r *run, ids []int64, opts DeputiesOpts) error {
	if !opts.Details && !opts.Expenses {
		return nil
	}

	if o.enq == nil {
		return errors.New("sync: no job scheduler configured for fan-out")
	}

	if opts.Details {
		units := make([]jobs.Unit, 0, len(ids))
		for _, id := range ids {
			units = append(units, deputyUnit(KindDeputyDetails, DeputyPayload{
				ExternalID: id, Expenses: opts.Expenses, Year: opts.Year,
			}))
		}

		batchID, _, err := o.enq.Dispatch(ctx, "deputy-details", units, jobs.DispatchOpts{})
		if err != nil {
			return fmt.Errorf("sync: dispatching detail units: %w", err)
		}

		r.result.BatchIDs = append(r.result.BatchIDs, batchID)

		return nil
	}

	batchID, _, err := o.dispatchExpenses(ctx, ids, o.expenseYears(opts.Year))
	if err != nil {
		return err
	}

	r.result.BatchIDs = append(r.result.BatchIDs, batchID)

	return nil
}

// SyncAllExpenses dispatches one expense unit per stored deputy and year.
// year 0 covers FirstExpenseYear through the current year.
func (o *Orchestrator) SyncAllExpenses(ctx context.Context, year int) (string, int, error) {
	if o.enq == nil {
		return "", 0, errors.New("sync: no job scheduler configured")
	}

	ids, err := o.store.Deputies().ListExternalIDs(ctx)
	if err != nil {
		return "", 0, err
	}

	return o.dispatchExpenses(ctx, ids, o.expenseYears(year))
}

func (o *Orchestrator) dispatchExpenses(ctx context.Context, ids []int64, years []int) (string, int, error) {
	if o.enq == nil {
		return "", 0, errors.New("sync: no job scheduler configured")
	}

	units := make([]jobs.Unit, 0, len(ids)*len(years))

	for _, id := range ids {
		for _, y := range years {
			units = append(units, expensesUnit(ExpensesPayload{ExternalID: id, Year: y}))
		}
	}

	batchID, n, err := o.enq.Dispatch(ctx, "deputy-expenses", units, jobs.DispatchOpts{})
	if err != nil {
		return "", 0, fmt.Errorf("sync: dispatching expense units: %w", err)
	}

	return batchID, n, nil
}

// expenseYears returns [year] when year is set, otherwise every year from
// FirstExpenseYear through the current one, most recent first.
func (o *Orchestrator) expenseYears(year int) []int {
	if year > 0 {
		return []int{year}
	}

	current := o.nowFunc().Year()
	first := min(o.cfg.FirstExpenseYear, current)

	years := make([]int, 0, current-first+1)
	for y := current; y >= first; y-- {
		years = append(years, y)
	}

	return years
}

// SyncReference upserts every legislature and party. Deputies resolve their
// party and legislature foreign keys against these rows.
func (o *Orchestrator) SyncReference(ctx context.Context) (*Result, error) {
	r := o.begin("reference")
	r.enter(StateListing)

	legs := o.src.Legislatures(ctx)
	legRepo := o.store.Legislatures()

	for raw := range legs.Records() {
		if r.result.State != StatePerRecordUpsert {
			r.enter(StatePerRecordUpsert)
		}

		l, err := camara.LegislatureFromSource(raw)
		if err != nil {
			r.mapFailed("legislature", err)
			continue
		}

		res, err := legRepo.Upsert(ctx, l)
		if fatal := r.recordUpsert(res, err, "legislature", l.ExternalID); fatal != nil {
			return r.fail(fmt.Errorf("sync: upserting legislature %d: %w", l.ExternalID, fatal))
		}
	}

	parties := o.src.Parties(ctx)
	partyRepo := o.store.Parties()

	for raw := range parties.Records() {
		if r.result.State != StatePerRecordUpsert {
			r.enter(StatePerRecordUpsert)
		}

		p, err := camara.PartyFromSource(raw)
		if err != nil {
			r.mapFailed("party", err)
			continue
		}

		if p.LogoURL == nil {
			p = o.partyDetail(ctx, p)
		}

		res, err := partyRepo.Upsert(ctx, p)
		if fatal := r.recordUpsert(res, err, "party", p.ExternalID); fatal != nil {
			return r.fail(fmt.Errorf("sync: upserting party %d: %w", p.ExternalID, fatal))
		}
	}

	if err := ctx.Err(); err != nil {
		return r.fail(fmt.Errorf("sync: reference listing: %w", err))
	}

	r.result.Complete = legs.Complete() && parties.Complete()

	return r.done(), nil
}

// partyDetail fills the fields the parties listing omits (the logo) from the
// detail endpoint. On any failure the listing record is kept as is.
func (o *Orchestrator) partyDetail(ctx context.Context, listed model.Party) model.Party {
	raw, err := o.src.Party(ctx, listed.ExternalID)
	if err != nil {
		level := slog.LevelWarn
		if camara.IsNotFound(err) {
			level = slog.LevelDebug
		}

		o.logger.Log(ctx, level, "party detail unavailable, keeping listing record",
			slog.Int64("external_id", listed.ExternalID),
			slog.String("error", err.Error()),
		)

		return listed
	}

	detailed, err := camara.PartyFromSource(raw)
	if err != nil || detailed.ExternalID != listed.ExternalID {
		o.logger.Warn("malformed party detail, keeping listing record",
			slog.Int64("external_id", listed.ExternalID))

		return listed
	}

	return detailed
}
