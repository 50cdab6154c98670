package store

import (
	"context"
	"time"

	"github.com/tonimelisma/camara-sync/internal/model"
)

const (
	sqlUpsertLegislature = `INSERT INTO legislatures
		(id, external_id, number, start_date, end_date, uri, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
		 number = excluded.number,
		 start_date = excluded.start_date,
		 end_date = excluded.end_date,
		 uri = excluded.uri,
		 last_synced_at = max(coalesce(legislatures.last_synced_at, 0), excluded.last_synced_at)
		RETURNING id`

	sqlLegislatureExists = `SELECT 1 FROM legislatures WHERE external_id = ?`

	sqlUpsertParty = `INSERT INTO parties
		(id, external_id, acronym, name, uri, logo_url, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
		 acronym = excluded.acronym,
		 name = excluded.name,
		 uri = excluded.uri,
		 logo_url = coalesce(excluded.logo_url, parties.logo_url),
		 last_synced_at = max(coalesce(parties.last_synced_at, 0), excluded.last_synced_at)
		RETURNING id`

	sqlPartyExists = `SELECT 1 FROM parties WHERE external_id = ?`
)

// LegislatureRepo persists legislatures keyed by external id.
type LegislatureRepo struct {
	*table[int64, model.Legislature]
}

// Legislatures returns the legislature repository.
func (s *Store) Legislatures() *LegislatureRepo {
	return &LegislatureRepo{&table[int64, model.Legislature]{
		s:         s,
		name:      "legislature",
		existsSQL: sqlLegislatureExists,
		keyArgs:   externalIDArgs,
		upsert:    upsertLegislature,
	}}
}

func upsertLegislature(ctx context.Context, q querier, l model.Legislature, newID string, now time.Time) (string, error) {
	ts := now.UnixNano()

	return upsertReturning(ctx, q, sqlUpsertLegislature,
		newID, l.ExternalID, l.Number, l.StartDate, l.EndDate, nullString(l.URI), ts, ts)
}

// PartyRepo persists parties keyed by external id.
type PartyRepo struct {
	*table[int64, model.Party]
}

// Parties returns the party repository.
func (s *Store) Parties() *PartyRepo {
	return &PartyRepo{&table[int64, model.Party]{
		s:         s,
		name:      "party",
		existsSQL: sqlPartyExists,
		keyArgs:   externalIDArgs,
		upsert:    upsertParty,
	}}
}

// The listing endpoint carries no logo, so a listing sync keeps the logo a
// detail sync stored.
func upsertParty(ctx context.Context, q querier, p model.Party, newID string, now time.Time) (string, error) {
	ts := now.UnixNano()

	return upsertReturning(ctx, q, sqlUpsertParty,
		newID, p.ExternalID, p.Acronym, p.Name, nullString(p.URI), nullString(p.LogoURL), ts, ts)
}

var (
	_ Repository[int64, model.Legislature] = (*LegislatureRepo)(nil)
	_ Repository[int64, model.Party]       = (*PartyRepo)(nil)
)
