package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/camara-sync/internal/model"
)

const (
	expenseInsertCols = `INSERT INTO expenses
		(id, deputy_id, external_id, year, month, expense_type, document_type,
		 document_type_code, document_number, document_date, document_url,
		 document_value, net_value, disallowed_value, supplier_name,
		 supplier_document, reimbursement_number, batch_code, installment,
		 last_synced_at, created_at)
		VALUES `

	expenseRowPlaceholders = `(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	expenseConflict = `
		ON CONFLICT(deputy_id, external_id) DO UPDATE SET
		 year = excluded.year,
		 month = excluded.month,
		 expense_type = excluded.expense_type,
		 document_type = excluded.document_type,
		 document_type_code = excluded.document_type_code,
		 document_number = excluded.document_number,
		 document_date = excluded.document_date,
		 document_url = excluded.document_url,
		 document_value = excluded.document_value,
		 net_value = excluded.net_value,
		 disallowed_value = excluded.disallowed_value,
		 supplier_name = excluded.supplier_name,
		 supplier_document = excluded.supplier_document,
		 reimbursement_number = excluded.reimbursement_number,
		 batch_code = excluded.batch_code,
		 installment = excluded.installment,
		 last_synced_at = max(coalesce(expenses.last_synced_at, 0), excluded.last_synced_at)
		RETURNING id`

	sqlUpsertExpense = expenseInsertCols + expenseRowPlaceholders + expenseConflict

	sqlExpenseExists = `SELECT 1 FROM expenses WHERE deputy_id = ? AND external_id = ?`

	sqlRecomputeTotal = `UPDATE deputies SET total_expenses =
		(SELECT coalesce(sum(net_value), 0) FROM expenses WHERE deputy_id = deputies.id)
		WHERE id = ?`

	sqlRecomputeAllTotals = `UPDATE deputies SET total_expenses =
		(SELECT coalesce(sum(net_value), 0) FROM expenses WHERE deputy_id = deputies.id)`

	expenseSelectCols = `SELECT id, deputy_id, external_id, year, month, expense_type,
		document_type, document_type_code, document_number, document_date,
		document_url, document_value, net_value, disallowed_value, supplier_name,
		supplier_document, reimbursement_number, batch_code, installment, last_synced_at
		FROM expenses `
)

// BulkResult aggregates the outcome of a bulk upsert.
type BulkResult struct {
	Created int
	Updated int
}

// ExpenseRepo persists expenses keyed by (deputy id, document code).
type ExpenseRepo struct {
	*table[model.ExpenseKey, model.Expense]
}

// Expenses returns the expense repository.
func (s *Store) Expenses() *ExpenseRepo {
	return &ExpenseRepo{&table[model.ExpenseKey, model.Expense]{
		s:         s,
		name:      "expense",
		existsSQL: sqlExpenseExists,
		keyArgs: func(k model.ExpenseKey) []any {
			return []any{k.DeputyID, k.ExternalID}
		},
		upsert: upsertExpense,
	}}
}

func upsertExpense(ctx context.Context, q querier, e model.Expense, newID string, now time.Time) (string, error) {
	return upsertReturning(ctx, q, sqlUpsertExpense, expenseArgs(&e, newID, now.UnixNano())...)
}

func expenseArgs(e *model.Expense, id string, ts int64) []any {
	return []any{
		id, e.DeputyID, e.ExternalID, e.Year, e.Month,
		nullString(e.ExpenseType), nullString(e.DocumentType), nullInt(e.DocumentTypeCode),
		nullString(e.DocumentNumber), nullString(e.DocumentDate), nullString(e.DocumentURL),
		model.ToCents(e.DocumentValue), model.ToCents(e.NetValue), model.ToCents(e.DisallowedValue),
		nullString(e.SupplierName), nullString(e.SupplierDocument),
		nullString(e.ReimbursementNumber), nullInt(e.BatchCode), e.Installment,
		ts, ts,
	}
}

// UpsertAll writes expenses in chunks of the store's chunk size. Each chunk is
// one multi-row statement in its own transaction, so a failure leaves earlier
// chunks committed and the failing chunk untouched. Records repeating a
// natural key are collapsed to the last occurrence first.
func (r *ExpenseRepo) UpsertAll(ctx context.Context, expenses []model.Expense) (BulkResult, error) {
	var total BulkResult

	unique := dedupeExpenses(expenses)
	size := r.s.chunkSize

	for start := 0; start < len(unique); start += size {
		end := min(start+size, len(unique))

		res, err := r.upsertChunk(ctx, unique[start:end])
		if err != nil {
			return total, fmt.Errorf("store: upserting expenses %d-%d of %d: %w", start, end, len(unique), err)
		}

		total.Created += res.Created
		total.Updated += res.Updated
	}

	r.s.logger.Debug("expenses upserted",
		slog.Int("records", len(unique)),
		slog.Int("created", total.Created),
		slog.Int("updated", total.Updated),
	)

	return total, nil
}

func (r *ExpenseRepo) upsertChunk(ctx context.Context, chunk []model.Expense) (BulkResult, error) {
	ts := r.s.nowFunc().UnixNano()

	newIDs := make(map[string]struct{}, len(chunk))
	args := make([]any, 0, len(chunk)*21)
	placeholders := make([]string, len(chunk))

	for i := range chunk {
		id := uuid.NewString()
		newIDs[id] = struct{}{}
		args = append(args, expenseArgs(&chunk[i], id, ts)...)
		placeholders[i] = expenseRowPlaceholders
	}

	query := expenseInsertCols + strings.Join(placeholders, ", ") + expenseConflict

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return BulkResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return BulkResult{}, err
	}

	var res BulkResult

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return BulkResult{}, fmt.Errorf("scanning returned id: %w", err)
		}

		if _, ok := newIDs[id]; ok {
			res.Created++
		} else {
			res.Updated++
		}
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return BulkResult{}, err
	}

	rows.Close()

	if err := tx.Commit(); err != nil {
		return BulkResult{}, fmt.Errorf("committing chunk: %w", err)
	}

	return res, nil
}

// dedupeExpenses keeps the last occurrence of each natural key, preserving
// first-seen order. A multi-row upsert touching the same key twice would
// otherwise report it twice.
func dedupeExpenses(in []model.Expense) []model.Expense {
	pos := make(map[model.ExpenseKey]int, len(in))
	out := make([]model.Expense, 0, len(in))

	for i := range in {
		k := in[i].Key()
		if j, ok := pos[k]; ok {
			out[j] = in[i]
			continue
		}

		pos[k] = len(out)
		out = append(out, in[i])
	}

	return out
}

// RecomputeTotal sets the deputy's total_expenses to the sum of its expenses'
// net values.
func (r *ExpenseRepo) RecomputeTotal(ctx context.Context, deputyID string) error {
	if _, err := r.s.db.ExecContext(ctx, sqlRecomputeTotal, deputyID); err != nil {
		return fmt.Errorf("store: recomputing total expenses for %s: %w", deputyID, err)
	}

	return nil
}

// RecomputeAllTotals recomputes total_expenses for every deputy.
func (r *ExpenseRepo) RecomputeAllTotals(ctx context.Context) error {
	if _, err := r.s.db.ExecContext(ctx, sqlRecomputeAllTotals); err != nil {
		return fmt.Errorf("store: recomputing all totals: %w", err)
	}

	return nil
}

// Years returns the distinct years with stored expenses for a deputy,
// most recent first.
func (r *ExpenseRepo) Years(ctx context.Context, deputyID string) ([]int, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT DISTINCT year FROM expenses WHERE deputy_id = ? ORDER BY year DESC`, deputyID)
	if err != nil {
		return nil, fmt.Errorf("store: listing expense years: %w", err)
	}
	defer rows.Close()

	var years []int

	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("store: scanning expense year: %w", err)
		}

		years = append(years, y)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating expense years: %w", err)
	}

	return years, nil
}

// List returns a deputy's stored expenses for a year (0 = all years),
// ordered by period then document code.
func (r *ExpenseRepo) List(ctx context.Context, deputyID string, year int) ([]model.Expense, error) {
	query := expenseSelectCols + `WHERE deputy_id = ?`
	args := []any{deputyID}

	if year > 0 {
		query += ` AND year = ?`
		args = append(args, year)
	}

	query += ` ORDER BY year, month, external_id`

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing expenses: %w", err)
	}
	defer rows.Close()

	var out []model.Expense

	for rows.Next() {
		e, scanErr := scanExpense(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating expenses: %w", err)
	}

	return out, nil
}

func scanExpense(rows *sql.Rows) (*model.Expense, error) {
	var (
		e                model.Expense
		expenseType      sql.NullString
		documentType     sql.NullString
		documentTypeCode sql.NullInt64
		documentNumber   sql.NullString
		documentDate     sql.NullString
		documentURL      sql.NullString
		documentCents    int64
		netCents         int64
		disallowedCents  int64
		supplierName     sql.NullString
		supplierDocument sql.NullString
		reimbursement    sql.NullString
		batchCode        sql.NullInt64
		lastSynced       sql.NullInt64
	)

	err := rows.Scan(
		&e.ID, &e.DeputyID, &e.ExternalID, &e.Year, &e.Month, &expenseType,
		&documentType, &documentTypeCode, &documentNumber, &documentDate,
		&documentURL, &documentCents, &netCents, &disallowedCents, &supplierName,
		&supplierDocument, &reimbursement, &batchCode, &e.Installment, &lastSynced,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scanning expense row: %w", err)
	}

	e.ExpenseType = strPtr(expenseType)
	e.DocumentType = strPtr(documentType)
	e.DocumentNumber = strPtr(documentNumber)
	e.DocumentDate = strPtr(documentDate)
	e.DocumentURL = strPtr(documentURL)
	e.SupplierName = strPtr(supplierName)
	e.SupplierDocument = strPtr(supplierDocument)
	e.ReimbursementNumber = strPtr(reimbursement)

	if documentTypeCode.Valid {
		v := int(documentTypeCode.Int64)
		e.DocumentTypeCode = &v
	}

	if batchCode.Valid {
		v := batchCode.Int64
		e.BatchCode = &v
	}

	e.DocumentValue = model.FromCents(documentCents)
	e.NetValue = model.FromCents(netCents)
	e.DisallowedValue = model.FromCents(disallowedCents)
	e.LastSyncedAt = timePtr(lastSynced)

	return &e, nil
}

var _ Repository[model.ExpenseKey, model.Expense] = (*ExpenseRepo)(nil)
