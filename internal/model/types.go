// Package model defines the strongly-typed records materialized from the
// Chamber of Deputies open-data API: legislatures, parties, deputies and
// their reimbursement expenses.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DeputySource identifies which API payload a Deputy was mapped from. Listing
// payloads carry only a subset of columns; detail payloads carry all of them.
type DeputySource int

const (
	SourceListing DeputySource = iota
	SourceDetail
)

func (s DeputySource) String() string {
	switch s {
	case SourceListing:
		return "listing"
	case SourceDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// Legislature is a four-year legislative term.
type Legislature struct {
	ID           string
	ExternalID   int64
	Number       int
	StartDate    string // YYYY-MM-DD
	EndDate      string // YYYY-MM-DD
	URI          *string
	LastSyncedAt *time.Time
}

// Party is a political party, keyed upstream by id and acronym.
type Party struct {
	ID           string
	ExternalID   int64
	Acronym      string
	Name         string
	URI          *string
	LogoURL      *string
	LastSyncedAt *time.Time
}

// Deputy is a legislator. StateCode and PartyAcronym are denormalized copies
// kept consistent with PartyID by the store. TotalExpenses is a cache of
// SUM(expenses.net_value) and is never written from API data.
type Deputy struct {
	ID                    string
	ExternalID            int64
	LegislatureID         *string
	PartyID               *string
	LegislatureExternalID *int64

	Name           string
	CivilName      *string
	ElectoralName  *string
	CPF            *string
	Gender         *string
	BirthDate      *string
	BirthCity      *string
	BirthState     *string
	DeathDate      *string
	EducationLevel *string

	StateCode    string
	PartyAcronym string
	Status       *string
	Email        *string
	PhotoURL     *string
	WebsiteURL   *string
	SocialLinks  json.RawMessage
	URI          *string
	Office       json.RawMessage

	TotalExpenses decimal.Decimal
	LastSyncedAt  *time.Time
	CreatedAt     time.Time

	Source DeputySource
}

// Expense is one reimbursement document. Its natural key is
// (DeputyID, ExternalID): upstream document codes are only unique within a
// single deputy's expense stream.
type Expense struct {
	ID         string
	DeputyID   string
	ExternalID int64
	Year       int
	Month      int

	ExpenseType      *string
	DocumentType     *string
	DocumentTypeCode *int
	DocumentNumber   *string
	DocumentDate     *string
	DocumentURL      *string

	DocumentValue   decimal.Decimal
	NetValue        decimal.Decimal
	DisallowedValue decimal.Decimal

	SupplierName        *string
	SupplierDocument    *string
	ReimbursementNumber *string
	BatchCode           *int64
	Installment         int

	LastSyncedAt *time.Time
}

// ExpenseKey is the natural key of an Expense.
type ExpenseKey struct {
	DeputyID   string
	ExternalID int64
}

// Key returns the natural key of e.
func (e *Expense) Key() ExpenseKey {
	return ExpenseKey{DeputyID: e.DeputyID, ExternalID: e.ExternalID}
}
