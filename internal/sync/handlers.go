package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tonimelisma/camara-sync/internal/camara"
	"github.com/tonimelisma/camara-sync/internal/jobs"
)

// Register installs the deputy job handlers. deputy.details and
// deputy.refresh share one handler.
func (o *Orchestrator) Register(reg HandlerRegistry) {
	reg.Handle(KindDeputyDetails, o.handleDeputy)
	reg.Handle(KindDeputyRefresh, o.handleDeputy)
	reg.Handle(KindDeputyExpenses, o.handleExpenses)
}

func (o *Orchestrator) handleDeputy(ctx context.Context, job *jobs.Job) error {
	var p DeputyPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	if p.ExternalID <= 0 {
		return jobs.Permanent(errors.New("sync: deputy job without external_id"))
	}

	res, err := o.SyncDeputy(ctx, p.ExternalID)
	if err != nil {
		return classify(err)
	}

	if !p.Expenses || res.Stats.Skipped > 0 {
		return nil
	}

	years := []int{p.Year}
	if p.Year <= 0 {
		current := o.nowFunc().Year()
		years = []int{current, current - 1}
	}

	_, n, err := o.dispatchExpenses(ctx, []int64{p.ExternalID}, years)
	if err != nil {
		return err
	}

	o.logger.Debug("expense units dispatched",
		slog.Int64("external_id", p.ExternalID),
		slog.Int("units", n),
	)

	return nil
}

func (o *Orchestrator) handleExpenses(ctx context.Context, job *jobs.Job) error {
	var p ExpensesPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	if p.ExternalID <= 0 || p.Year <= 0 {
		return jobs.Permanent(errors.New("sync: expense job needs external_id and year"))
	}

	_, err := o.SyncDeputyExpenses(ctx, p.ExternalID, p.Year)

	return classify(err)
}

// classify marks errors that no retry can fix as permanent.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, camara.ErrMalformedRecord),
		errors.Is(err, camara.ErrBadRequest),
		errors.Is(err, ErrDeputyNotStored):
		return jobs.Permanent(err)
	default:
		return err
	}
}
