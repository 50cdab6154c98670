package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tonimelisma/camara-sync/internal/camara"
	"github.com/tonimelisma/camara-sync/internal/jobs"
)

// ErrDeputyNotStored is returned when an expense sync targets a deputy that
// has no local row yet.
var ErrDeputyNotStored = errors.New("sync: deputy not stored locally")

// State is a step of a sync run.
type State int

const (
	StateStart State = iota
	StateListing
	StatePerRecordUpsert
	StateReconcile
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateListing:
		return "listing"
	case StatePerRecordUpsert:
		return "upsert"
	case StateReconcile:
		return "reconcile"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats counts per-record outcomes of a run.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// Result summarizes one run.
type Result struct {
	State    State         `json:"state"`
	Stats    Stats         `json:"stats"`
	Duration time.Duration `json:"duration_ns"`

	// Complete is false when the listing was cut short by a failed page or
	// the page cap. Reconciliation only runs on complete listings.
	Complete   bool `json:"complete"`
	Reconciled bool `json:"reconciled"`

	// ReconcileError is set when reconciliation ran but removed nothing
	// because it was refused (big-delete protection) or rolled back.
	ReconcileError string `json:"reconcile_error,omitempty"`

	// BatchIDs are the job batches dispatched by the run, if any.
	BatchIDs []string `json:"batch_ids,omitempty"`
}

// Source is the upstream API surface used by the orchestrator. Satisfied by
// *camara.Client.
type Source interface {
	CurrentDeputies(ctx context.Context, legislature int) *camara.Pager
	Deputy(ctx context.Context, externalID int64) (json.RawMessage, error)
	DeputyExpenses(ctx context.Context, externalID int64, year, month int) *camara.Pager
	Legislatures(ctx context.Context) *camara.Pager
	Parties(ctx context.Context) *camara.Pager
	Party(ctx context.Context, externalID int64) (json.RawMessage, error)
	CurrentLegislature(ctx context.Context, now time.Time) int
}

// Enqueuer hands work units to the job scheduler. Satisfied by
// *jobs.Scheduler.
type Enqueuer interface {
	Dispatch(ctx context.Context, name string, units []jobs.Unit, opts jobs.DispatchOpts) (string, int, error)
	Enqueue(ctx context.Context, name string, u jobs.Unit) (bool, error)
}

// HandlerRegistry registers job handlers. Satisfied by *jobs.WorkerPool.
type HandlerRegistry interface {
	Handle(kind string, h jobs.Handler)
}

// Job kinds.
const (
	KindDeputyDetails  = "deputy.details"
	KindDeputyRefresh  = "deputy.refresh"
	KindDeputyExpenses = "deputy.expenses"
)

// DeputyPayload is the payload of deputy.details and deputy.refresh jobs.
// With Expenses set, a successful detail sync fans out expense units for
// Year, or for the current and previous year when Year is zero.
type DeputyPayload struct {
	ExternalID int64 `json:"external_id"`
	Expenses   bool  `json:"expenses,omitempty"`
	Year       int   `json:"year,omitempty"`
}

// ExpensesPayload is the payload of deputy.expenses jobs.
type ExpensesPayload struct {
	ExternalID int64 `json:"external_id"`
	Year       int   `json:"year"`
}

// DetailsKey is the in-flight unique key of a deputy detail unit. Detail and
// refresh units share it so a deputy is never refreshed twice at once.
func DetailsKey(externalID int64) string {
	return "deputy-details:" + strconv.FormatInt(externalID, 10)
}

// ExpensesKey is the in-flight unique key of a deputy expense unit.
func ExpensesKey(externalID int64, year int) string {
	return fmt.Sprintf("deputy-expenses:%d:%d", externalID, year)
}

func deputyTags(externalID int64) []string {
	return []string{"deputy", strconv.FormatInt(externalID, 10)}
}

func deputyUnit(kind string, p DeputyPayload) jobs.Unit {
	payload, _ := json.Marshal(p) //nolint:errchkjson // plain struct

	return jobs.Unit{
		Kind:      kind,
		UniqueKey: DetailsKey(p.ExternalID),
		Payload:   payload,
		Tags:      deputyTags(p.ExternalID),
	}
}

func expensesUnit(p ExpensesPayload) jobs.Unit {
	payload, _ := json.Marshal(p) //nolint:errchkjson // plain struct

	return jobs.Unit{
		Kind:      KindDeputyExpenses,
		UniqueKey: ExpensesKey(p.ExternalID, p.Year),
		Payload:   payload,
		Tags:      append(deputyTags(p.ExternalID), strconv.Itoa(p.Year)),
	}
}
