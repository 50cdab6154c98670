package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/camara-sync/internal/model"
)

// Deputy upserts come in two column sets. A listing record only carries the
// basic columns; writing it must not null out what a detail sync stored.
// party_id and legislature_id are resolved inside the statement so they are
// always consistent with party_acronym and the upstream legislature id.
const (
	sqlUpsertDeputyListing = `INSERT INTO deputies
		(id, external_id, legislature_id, party_id, name, state_code, party_acronym,
		 email, photo_url, uri, last_synced_at, created_at)
		VALUES (?, ?,
		 (SELECT id FROM legislatures WHERE external_id = ?),
		 (SELECT id FROM parties WHERE acronym = ?),
		 ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
		 legislature_id = coalesce(excluded.legislature_id, deputies.legislature_id),
		 party_id = excluded.party_id,
		 name = excluded.name,
		 state_code = excluded.state_code,
		 party_acronym = excluded.party_acronym,
		 email = coalesce(excluded.email, deputies.email),
		 photo_url = coalesce(excluded.photo_url, deputies.photo_url),
		 uri = coalesce(excluded.uri, deputies.uri),
		 last_synced_at = max(coalesce(deputies.last_synced_at, 0), excluded.last_synced_at)
		RETURNING id`

	sqlUpsertDeputyDetail = `INSERT INTO deputies
		(id, external_id, legislature_id, party_id, name, civil_name, electoral_name,
		 cpf, gender, birth_date, birth_city, birth_state, death_date, education_level,
		 state_code, party_acronym, status, email, photo_url, website_url,
		 social_links, uri, office, last_synced_at, created_at)
		VALUES (?, ?,
		 (SELECT id FROM legislatures WHERE external_id = ?),
		 (SELECT id FROM parties WHERE acronym = ?),
		 ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
		 legislature_id = coalesce(excluded.legislature_id, deputies.legislature_id),
		 party_id = excluded.party_id,
		 name = excluded.name,
		 civil_name = excluded.civil_name,
		 electoral_name = excluded.electoral_name,
		 cpf = excluded.cpf,
		 gender = excluded.gender,
		 birth_date = excluded.birth_date,
		 birth_city = excluded.birth_city,
		 birth_state = excluded.birth_state,
		 death_date = excluded.death_date,
		 education_level = excluded.education_level,
		 state_code = excluded.state_code,
		 party_acronym = excluded.party_acronym,
		 status = excluded.status,
		 email = excluded.email,
		 photo_url = excluded.photo_url,
		 website_url = excluded.website_url,
		 social_links = excluded.social_links,
		 uri = excluded.uri,
		 office = excluded.office,
		 last_synced_at = max(coalesce(deputies.last_synced_at, 0), excluded.last_synced_at)
		RETURNING id`

	sqlDeputyExists = `SELECT 1 FROM deputies WHERE external_id = ?`

	deputySelectCols = `SELECT d.id, d.external_id, d.legislature_id, d.party_id, l.external_id,
		d.name, d.civil_name, d.electoral_name, d.cpf, d.gender, d.birth_date,
		d.birth_city, d.birth_state, d.death_date, d.education_level,
		d.state_code, d.party_acronym, d.status, d.email, d.photo_url,
		d.website_url, d.social_links, d.uri, d.office, d.total_expenses,
		d.last_synced_at, d.created_at
		FROM deputies d LEFT JOIN legislatures l ON l.id = d.legislature_id `
)

// DeputyRepo persists deputies keyed by external id.
type DeputyRepo struct {
	*table[int64, model.Deputy]
}

// Deputies returns the deputy repository.
func (s *Store) Deputies() *DeputyRepo {
	return &DeputyRepo{&table[int64, model.Deputy]{
		s:         s,
		name:      "deputy",
		existsSQL: sqlDeputyExists,
		keyArgs:   externalIDArgs,
		upsert:    upsertDeputy,
	}}
}

func upsertDeputy(ctx context.Context, q querier, d model.Deputy, newID string, now time.Time) (string, error) {
	ts := now.UnixNano()

	if d.Source == model.SourceListing {
		return upsertReturning(ctx, q, sqlUpsertDeputyListing,
			newID, d.ExternalID, nullInt(d.LegislatureExternalID), d.PartyAcronym,
			d.Name, d.StateCode, d.PartyAcronym,
			nullString(d.Email), nullString(d.PhotoURL), nullString(d.URI), ts, ts)
	}

	return upsertReturning(ctx, q, sqlUpsertDeputyDetail,
		newID, d.ExternalID, nullInt(d.LegislatureExternalID), d.PartyAcronym,
		d.Name, nullString(d.CivilName), nullString(d.ElectoralName),
		nullString(d.CPF), nullString(d.Gender), nullString(d.BirthDate),
		nullString(d.BirthCity), nullString(d.BirthState), nullString(d.DeathDate),
		nullString(d.EducationLevel), d.StateCode, d.PartyAcronym, nullString(d.Status),
		nullString(d.Email), nullString(d.PhotoURL), nullString(d.WebsiteURL),
		nullJSON(d.SocialLinks), nullString(d.URI), nullJSON(d.Office), ts, ts)
}

// DeputyByExternalID returns the stored deputy with the given upstream id,
// or ErrNotFound.
func (r *DeputyRepo) DeputyByExternalID(ctx context.Context, externalID int64) (*model.Deputy, error) {
	return r.queryOne(ctx, `WHERE d.external_id = ?`, externalID)
}

// DeputyByID returns the stored deputy with the given surrogate id, or
// ErrNotFound.
func (r *DeputyRepo) DeputyByID(ctx context.Context, id string) (*model.Deputy, error) {
	return r.queryOne(ctx, `WHERE d.id = ?`, id)
}

func (r *DeputyRepo) queryOne(ctx context.Context, where string, args ...any) (*model.Deputy, error) {
	rows, err := r.s.db.QueryContext(ctx, deputySelectCols+where, args...) //nolint:gosec // where is a compile-time constant
	if err != nil {
		return nil, fmt.Errorf("store: querying deputy: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("store: querying deputy: %w", err)
		}

		return nil, ErrNotFound
	}

	return scanDeputy(rows)
}

// DeputyFilter narrows ListDeputies. Zero values mean no filter.
type DeputyFilter struct {
	StateCode    string
	PartyAcronym string
	Name         string // case-insensitive substring
	Limit        int
	Offset       int
}

// ListDeputies returns stored deputies ordered by name.
func (r *DeputyRepo) ListDeputies(ctx context.Context, f DeputyFilter) ([]model.Deputy, error) {
	var (
		where []string
		args  []any
	)

	if f.StateCode != "" {
		where = append(where, "d.state_code = ?")
		args = append(args, f.StateCode)
	}

	if f.PartyAcronym != "" {
		where = append(where, "d.party_acronym = ?")
		args = append(args, f.PartyAcronym)
	}

	if f.Name != "" {
		where = append(where, "d.name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.Name)+"%")
	}

	query := deputySelectCols
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY d.name, d.external_id"

	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, max(f.Offset, 0))
	}

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing deputies: %w", err)
	}
	defer rows.Close()

	var out []model.Deputy

	for rows.Next() {
		d, scanErr := scanDeputy(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		out = append(out, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating deputies: %w", err)
	}

	return out, nil
}

// ListExternalIDs returns the upstream ids of every stored deputy, ascending.
func (r *DeputyRepo) ListExternalIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT external_id FROM deputies ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("store: listing deputy ids: %w", err)
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning deputy id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating deputy ids: %w", err)
	}

	return ids, nil
}

// Count returns the number of stored deputies.
func (r *DeputyRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deputies`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting deputies: %w", err)
	}

	return n, nil
}

func scanDeputy(rows *sql.Rows) (*model.Deputy, error) {
	var (
		d              model.Deputy
		legislatureID  sql.NullString
		partyID        sql.NullString
		legislatureExt sql.NullInt64
		civilName      sql.NullString
		electoralName  sql.NullString
		cpf            sql.NullString
		gender         sql.NullString
		birthDate      sql.NullString
		birthCity      sql.NullString
		birthState     sql.NullString
		deathDate      sql.NullString
		educationLevel sql.NullString
		status         sql.NullString
		email          sql.NullString
		photoURL       sql.NullString
		websiteURL     sql.NullString
		socialLinks    sql.NullString
		uri            sql.NullString
		office         sql.NullString
		totalCents     int64
		lastSynced     sql.NullInt64
		createdAt      int64
	)

	err := rows.Scan(
		&d.ID, &d.ExternalID, &legislatureID, &partyID, &legislatureExt,
		&d.Name, &civilName, &electoralName, &cpf, &gender, &birthDate,
		&birthCity, &birthState, &deathDate, &educationLevel,
		&d.StateCode, &d.PartyAcronym, &status, &email, &photoURL,
		&websiteURL, &socialLinks, &uri, &office, &totalCents,
		&lastSynced, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scanning deputy row: %w", err)
	}

	d.LegislatureID = strPtr(legislatureID)
	d.PartyID = strPtr(partyID)

	if legislatureExt.Valid {
		v := legislatureExt.Int64
		d.LegislatureExternalID = &v
	}

	d.CivilName = strPtr(civilName)
	d.ElectoralName = strPtr(electoralName)
	d.CPF = strPtr(cpf)
	d.Gender = strPtr(gender)
	d.BirthDate = strPtr(birthDate)
	d.BirthCity = strPtr(birthCity)
	d.BirthState = strPtr(birthState)
	d.DeathDate = strPtr(deathDate)
	d.EducationLevel = strPtr(educationLevel)
	d.Status = strPtr(status)
	d.Email = strPtr(email)
	d.PhotoURL = strPtr(photoURL)
	d.WebsiteURL = strPtr(websiteURL)
	d.URI = strPtr(uri)

	if socialLinks.Valid {
		d.SocialLinks = json.RawMessage(socialLinks.String)
	}

	if office.Valid {
		d.Office = json.RawMessage(office.String)
	}

	d.TotalExpenses = model.FromCents(totalCents)
	d.LastSyncedAt = timePtr(lastSynced)
	d.CreatedAt = time.Unix(0, createdAt).UTC()

	// A row carrying detail-only columns has been through a detail sync.
	if d.CivilName != nil || d.Status != nil || d.Office != nil {
		d.Source = model.SourceDetail
	}

	return &d, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ Reconcilable[int64, model.Deputy] = (*DeputyRepo)(nil)
