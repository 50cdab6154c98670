package camara

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/camara-sync/internal/model"
)

// The API is loosely typed: ids and amounts arrive as JSON numbers in most
// payloads but as strings in some, and optional fields are either missing,
// null, or "". The flex types below absorb those variations so the mappers
// only deal with presence.

// flexInt decodes a JSON number or numeric string. "" decodes as 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}

	*f = flexInt(d.IntPart())

	return nil
}

// flexDecimal decodes a JSON number or numeric string. "" and null decode as 0.
type flexDecimal struct {
	decimal.Decimal
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		f.Decimal = decimal.Zero
		return nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q", s)
	}

	f.Decimal = d

	return nil
}

// flexString decodes a JSON string, or the literal text of a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*f = flexString(s)

		return nil
	}

	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}

	*f = flexString(b)

	return nil
}

// clean returns the trimmed, NFC-normalized value, or nil when absent or blank.
func clean(s *flexString) *string {
	if s == nil {
		return nil
	}

	v := norm.NFC.String(strings.TrimSpace(string(*s)))
	if v == "" {
		return nil
	}

	return &v
}

// first returns the first present, non-blank value.
func first(vals ...*flexString) *string {
	for _, v := range vals {
		if c := clean(v); c != nil {
			return c
		}
	}

	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

// dateOnly reduces "2024-01-15" or "2024-01-15T10:00:00" to "2024-01-15".
// Values that do not start with a valid date are kept as-is.
func dateOnly(s *string) *string {
	if s == nil || len(*s) < len(time.DateOnly) {
		return s
	}

	d := (*s)[:len(time.DateOnly)]
	if _, err := time.Parse(time.DateOnly, d); err != nil {
		return s
	}

	return &d
}

// isEmptyJSON reports whether raw carries no object or array: missing, null,
// a scalar, or {}. An empty array counts as present.
func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return true
	}

	var decoded any
	if err := json.Unmarshal(t, &decoded); err != nil {
		return true
	}

	switch v := decoded.(type) {
	case map[string]any:
		return len(v) == 0
	case []any:
		return false
	default:
		return true
	}
}

type deputySource struct {
	ID                  flexInt         `json:"id"`
	URI                 *flexString     `json:"uri"`
	Nome                *flexString     `json:"nome"`
	NomeCivil           *flexString     `json:"nomeCivil"`
	CPF                 *flexString     `json:"cpf"`
	Sexo                *flexString     `json:"sexo"`
	DataNascimento      *flexString     `json:"dataNascimento"`
	MunicipioNascimento *flexString     `json:"municipioNascimento"`
	UFNascimento        *flexString     `json:"ufNascimento"`
	DataFalecimento     *flexString     `json:"dataFalecimento"`
	Escolaridade        *flexString     `json:"escolaridade"`
	URLWebsite          *flexString     `json:"urlWebsite"`
	RedeSocial          json.RawMessage `json:"redeSocial"`
	SiglaUF             *flexString     `json:"siglaUf"`
	SiglaPartido        *flexString     `json:"siglaPartido"`
	URLFoto             *flexString     `json:"urlFoto"`
	Email               *flexString     `json:"email"`
	IDLegislatura       *flexInt        `json:"idLegislatura"`
	UltimoStatus        *statusSource   `json:"ultimoStatus"`
}

type statusSource struct {
	Nome          *flexString     `json:"nome"`
	NomeEleitoral *flexString     `json:"nomeEleitoral"`
	SiglaUF       *flexString     `json:"siglaUf"`
	SiglaPartido  *flexString     `json:"siglaPartido"`
	URLFoto       *flexString     `json:"urlFoto"`
	Email         *flexString     `json:"email"`
	Situacao      *flexString     `json:"situacao"`
	IDLegislatura *flexInt        `json:"idLegislatura"`
	Gabinete      json.RawMessage `json:"gabinete"`
}

type officeSource struct {
	Email *flexString `json:"email"`
}

// DeputyFromSource maps a deputy record from either the listing or the detail
// endpoint. Field precedence:
//
//   - nome, siglaUf, siglaPartido, urlFoto, idLegislatura: ultimoStatus, then top level
//   - nomeEleitoral, situacao: ultimoStatus only
//   - email: ultimoStatus.gabinete, then ultimoStatus, then top level
//   - office: ultimoStatus.gabinete verbatim, nil when absent or empty
//   - civil name, demographics, website, social links, uri: top level only
//
// A record carrying ultimoStatus is a detail payload; anything else is a
// listing payload and leaves detail-only fields nil.
func DeputyFromSource(raw json.RawMessage) (model.Deputy, error) {
	var src deputySource
	if err := json.Unmarshal(raw, &src); err != nil {
		return model.Deputy{}, malformed("deputy: %v", err)
	}

	if src.ID <= 0 {
		return model.Deputy{}, malformed("deputy: missing id")
	}

	st := src.UltimoStatus
	if st == nil {
		st = &statusSource{}
	}

	d := model.Deputy{
		ExternalID:     int64(src.ID),
		Name:           deref(first(st.Nome, src.Nome)),
		CivilName:      clean(src.NomeCivil),
		ElectoralName:  clean(st.NomeEleitoral),
		CPF:            clean(src.CPF),
		Gender:         clean(src.Sexo),
		BirthDate:      dateOnly(clean(src.DataNascimento)),
		BirthCity:      clean(src.MunicipioNascimento),
		BirthState:     clean(src.UFNascimento),
		DeathDate:      dateOnly(clean(src.DataFalecimento)),
		EducationLevel: clean(src.Escolaridade),
		StateCode:      deref(first(st.SiglaUF, src.SiglaUF)),
		PartyAcronym:   deref(first(st.SiglaPartido, src.SiglaPartido)),
		Status:         clean(st.Situacao),
		PhotoURL:       first(st.URLFoto, src.URLFoto),
		WebsiteURL:     clean(src.URLWebsite),
		URI:            clean(src.URI),
		Source:         model.SourceListing,
	}

	if d.Name == "" {
		return model.Deputy{}, malformed("deputy %d: missing name", src.ID)
	}

	if src.UltimoStatus != nil {
		d.Source = model.SourceDetail
	}

	switch {
	case st.IDLegislatura != nil && *st.IDLegislatura > 0:
		leg := int64(*st.IDLegislatura)
		d.LegislatureExternalID = &leg
	case src.IDLegislatura != nil && *src.IDLegislatura > 0:
		leg := int64(*src.IDLegislatura)
		d.LegislatureExternalID = &leg
	}

	var office officeSource

	if !isEmptyJSON(st.Gabinete) {
		d.Office = append(json.RawMessage(nil), bytes.TrimSpace(st.Gabinete)...)
		// A malformed office leaves the email fallback chain intact.
		_ = json.Unmarshal(st.Gabinete, &office)
	}

	d.Email = first(office.Email, st.Email, src.Email)

	if !isEmptyJSON(src.RedeSocial) {
		d.SocialLinks = append(json.RawMessage(nil), bytes.TrimSpace(src.RedeSocial)...)
	}

	return d, nil
}

type expenseSource struct {
	CodDocumento      *flexInt    `json:"codDocumento"`
	Ano               *flexInt    `json:"ano"`
	Mes               *flexInt    `json:"mes"`
	TipoDespesa       *flexString `json:"tipoDespesa"`
	TipoDocumento     *flexString `json:"tipoDocumento"`
	CodTipoDocumento  *flexInt    `json:"codTipoDocumento"`
	NumDocumento      *flexString `json:"numDocumento"`
	DataDocumento     *flexString `json:"dataDocumento"`
	URLDocumento      *flexString `json:"urlDocumento"`
	ValorDocumento    flexDecimal `json:"valorDocumento"`
	ValorLiquido      flexDecimal `json:"valorLiquido"`
	ValorGlosa        flexDecimal `json:"valorGlosa"`
	NomeFornecedor    *flexString `json:"nomeFornecedor"`
	CNPJCPFFornecedor *flexString `json:"cnpjCpfFornecedor"`
	NumRessarcimento  *flexString `json:"numRessarcimento"`
	CodLote           *flexInt    `json:"codLote"`
	Parcela           flexInt     `json:"parcela"`
}

// ExpenseFromSource maps one reimbursement document. codDocumento, ano and
// mes are required; amounts and installment default to zero. The caller sets
// DeputyID.
func ExpenseFromSource(raw json.RawMessage) (model.Expense, error) {
	var src expenseSource
	if err := json.Unmarshal(raw, &src); err != nil {
		return model.Expense{}, malformed("expense: %v", err)
	}

	if src.CodDocumento == nil || *src.CodDocumento == 0 {
		return model.Expense{}, malformed("expense: missing codDocumento")
	}

	if src.Ano == nil || *src.Ano <= 0 {
		return model.Expense{}, malformed("expense %d: missing ano", *src.CodDocumento)
	}

	if src.Mes == nil || *src.Mes < 1 || *src.Mes > 12 {
		return model.Expense{}, malformed("expense %d: invalid mes", *src.CodDocumento)
	}

	e := model.Expense{
		ExternalID:          int64(*src.CodDocumento),
		Year:                int(*src.Ano),
		Month:               int(*src.Mes),
		ExpenseType:         clean(src.TipoDespesa),
		DocumentType:        clean(src.TipoDocumento),
		DocumentNumber:      clean(src.NumDocumento),
		DocumentDate:        dateOnly(clean(src.DataDocumento)),
		DocumentURL:         clean(src.URLDocumento),
		DocumentValue:       src.ValorDocumento.Decimal,
		NetValue:            src.ValorLiquido.Decimal,
		DisallowedValue:     src.ValorGlosa.Decimal,
		SupplierName:        clean(src.NomeFornecedor),
		SupplierDocument:    clean(src.CNPJCPFFornecedor),
		ReimbursementNumber: clean(src.NumRessarcimento),
		Installment:         int(src.Parcela),
	}

	if src.CodTipoDocumento != nil {
		code := int(*src.CodTipoDocumento)
		e.DocumentTypeCode = &code
	}

	if src.CodLote != nil {
		lot := int64(*src.CodLote)
		e.BatchCode = &lot
	}

	return e, nil
}

type legislatureSource struct {
	ID         flexInt     `json:"id"`
	URI        *flexString `json:"uri"`
	DataInicio *flexString `json:"dataInicio"`
	DataFim    *flexString `json:"dataFim"`
}

// LegislatureFromSource maps a legislature record. The legislature number is
// its id.
func LegislatureFromSource(raw json.RawMessage) (model.Legislature, error) {
	var src legislatureSource
	if err := json.Unmarshal(raw, &src); err != nil {
		return model.Legislature{}, malformed("legislature: %v", err)
	}

	if src.ID <= 0 {
		return model.Legislature{}, malformed("legislature: missing id")
	}

	start := dateOnly(clean(src.DataInicio))
	end := dateOnly(clean(src.DataFim))

	if start == nil || end == nil {
		return model.Legislature{}, malformed("legislature %d: missing dates", src.ID)
	}

	for _, d := range []string{*start, *end} {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return model.Legislature{}, malformed("legislature %d: invalid date %q", src.ID, d)
		}
	}

	return model.Legislature{
		ExternalID: int64(src.ID),
		Number:     int(src.ID),
		StartDate:  *start,
		EndDate:    *end,
		URI:        clean(src.URI),
	}, nil
}

type partySource struct {
	ID      flexInt     `json:"id"`
	Sigla   *flexString `json:"sigla"`
	Nome    *flexString `json:"nome"`
	URI     *flexString `json:"uri"`
	URLLogo *flexString `json:"urlLogo"`
}

// PartyFromSource maps a party record from the listing or detail endpoint.
// The listing has no logo; a missing name falls back to the acronym.
func PartyFromSource(raw json.RawMessage) (model.Party, error) {
	var src partySource
	if err := json.Unmarshal(raw, &src); err != nil {
		return model.Party{}, malformed("party: %v", err)
	}

	if src.ID <= 0 {
		return model.Party{}, malformed("party: missing id")
	}

	acronym := clean(src.Sigla)
	if acronym == nil {
		return model.Party{}, malformed("party %d: missing sigla", src.ID)
	}

	return model.Party{
		ExternalID: int64(src.ID),
		Acronym:    *acronym,
		Name:       deref(first(src.Nome, src.Sigla)),
		URI:        clean(src.URI),
		LogoURL:    clean(src.URLLogo),
	}, nil
}
