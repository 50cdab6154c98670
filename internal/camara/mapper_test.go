package camara

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/camara-sync/internal/model"
)

func TestDeputyFromSource_Listing(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"id": 204521,
		"uri": "https://dadosabertos.camara.leg.br/api/v2/deputados/204521",
		"nome": "Maria Silva",
		"siglaPartido": "XYZ",
		"siglaUf": "SP",
		"idLegislatura": 57,
		"urlFoto": "https://example/foto.jpg",
		"email": "dep.mariasilva@camara.leg.br"
	}`)

	d, err := DeputyFromSource(raw)
	require.NoError(t, err)

	assert.Equal(t, int64(204521), d.ExternalID)
	assert.Equal(t, "Maria Silva", d.Name)
	assert.Equal(t, "XYZ", d.PartyAcronym)
	assert.Equal(t, "SP", d.StateCode)
	require.NotNil(t, d.LegislatureExternalID)
	assert.Equal(t, int64(57), *d.LegislatureExternalID)
	assert.Equal(t, "dep.mariasilva@camara.leg.br", *d.Email)
	assert.Equal(t, model.SourceListing, d.Source)

	assert.Nil(t, d.CivilName)
	assert.Nil(t, d.ElectoralName)
	assert.Nil(t, d.Status)
	assert.Nil(t, d.Office)
	assert.Nil(t, d.SocialLinks)
}

func TestDeputyFromSource_DetailPrecedence(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"id": "204521",
		"nome": "Old Name",
		"siglaUf": "RJ",
		"siglaPartido": "OLD",
		"nomeCivil": "Maria da Silva Souza",
		"cpf": "12345678900",
		"sexo": "F",
		"dataNascimento": "1980-05-17",
		"municipioNascimento": "Campinas",
		"ufNascimento": "SP",
		"dataFalecimento": null,
		"escolaridade": "Superior",
		"urlWebsite": "",
		"redeSocial": ["https://social/maria"],
		"ultimoStatus": {
			"nome": "Maria Silva",
			"nomeEleitoral": "Maria Silva",
			"siglaUf": "SP",
			"siglaPartido": "XYZ",
			"idLegislatura": 57,
			"urlFoto": "https://example/new.jpg",
			"email": "status@camara.leg.br",
			"situacao": "Exercício",
			"gabinete": {"nome": "401", "predio": "4", "email": "gabinete@camara.leg.br"}
		}
	}`)

	d, err := DeputyFromSource(raw)
	require.NoError(t, err)

	assert.Equal(t, model.SourceDetail, d.Source)
	assert.Equal(t, "Maria Silva", d.Name)
	assert.Equal(t, "SP", d.StateCode)
	assert.Equal(t, "XYZ", d.PartyAcronym)
	assert.Equal(t, "https://example/new.jpg", *d.PhotoURL)
	assert.Equal(t, "gabinete@camara.leg.br", *d.Email)
	assert.Equal(t, "Exercício", *d.Status)
	assert.Equal(t, "Maria da Silva Souza", *d.CivilName)
	assert.Equal(t, "1980-05-17", *d.BirthDate)
	assert.Nil(t, d.DeathDate)
	assert.Nil(t, d.WebsiteURL, "blank strings map to nil")
	assert.JSONEq(t, `{"nome":"401","predio":"4","email":"gabinete@camara.leg.br"}`, string(d.Office))
	assert.JSONEq(t, `["https://social/maria"]`, string(d.SocialLinks))
}

func TestDeputyFromSource_EmailFallback(t *testing.T) {
	t.Parallel()

	d, err := DeputyFromSource(json.RawMessage(`{
		"id": 1, "nome": "A",
		"ultimoStatus": {"email": "status@x", "gabinete": {"email": null}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "status@x", *d.Email)

	d, err = DeputyFromSource(json.RawMessage(`{
		"id": 1, "nome": "A", "email": "top@x",
		"ultimoStatus": {"gabinete": {}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "top@x", *d.Email)
	assert.Nil(t, d.Office, "empty office is nil")
}

func TestDeputyFromSource_NFCNormalization(t *testing.T) {
	t.Parallel()

	d, err := DeputyFromSource(json.RawMessage(`{"id": 2, "nome": "  Joa\u0303o  "}`))
	require.NoError(t, err)
	assert.Equal(t, "Jo\u00e3o", d.Name)
}

func TestDeputyFromSource_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"missing id", `{"nome": "A"}`},
		{"zero id", `{"id": 0, "nome": "A"}`},
		{"missing name", `{"id": 3}`},
		{"bad id", `{"id": "abc", "nome": "A"}`},
		{"not an object", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DeputyFromSource(json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestExpenseFromSource(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"ano": 2024,
		"mes": 3,
		"tipoDespesa": "COMBUSTÍVEIS E LUBRIFICANTES.",
		"codDocumento": 7654321,
		"tipoDocumento": "Nota Fiscal Eletrônica",
		"codTipoDocumento": 4,
		"dataDocumento": "2024-03-12T00:00:00",
		"numDocumento": "123",
		"valorDocumento": 250.50,
		"urlDocumento": "https://example/doc.pdf",
		"nomeFornecedor": "Posto Exemplo",
		"cnpjCpfFornecedor": "12345678000199",
		"valorLiquido": "250.5",
		"valorGlosa": 0,
		"numRessarcimento": "",
		"codLote": 1987654,
		"parcela": 0
	}`)

	e, err := ExpenseFromSource(raw)
	require.NoError(t, err)

	assert.Equal(t, int64(7654321), e.ExternalID)
	assert.Equal(t, 2024, e.Year)
	assert.Equal(t, 3, e.Month)
	assert.Equal(t, "2024-03-12", *e.DocumentDate)
	assert.Equal(t, 4, *e.DocumentTypeCode)
	assert.Equal(t, int64(1987654), *e.BatchCode)
	assert.True(t, e.DocumentValue.Equal(decimal.RequireFromString("250.50")))
	assert.True(t, e.NetValue.Equal(decimal.RequireFromString("250.5")))
	assert.True(t, e.DisallowedValue.IsZero())
	assert.Nil(t, e.ReimbursementNumber)
	assert.Empty(t, e.DeputyID, "deputy is assigned by the caller")
}

func TestExpenseFromSource_Defaults(t *testing.T) {
	t.Parallel()

	e, err := ExpenseFromSource(json.RawMessage(`{"codDocumento": 1, "ano": 2023, "mes": 12, "valorLiquido": null}`))
	require.NoError(t, err)

	assert.True(t, e.DocumentValue.IsZero())
	assert.True(t, e.NetValue.IsZero())
	assert.True(t, e.DisallowedValue.IsZero())
	assert.Equal(t, 0, e.Installment)
	assert.Nil(t, e.ExpenseType)
	assert.Nil(t, e.DocumentTypeCode)
	assert.Nil(t, e.BatchCode)
}

func TestExpenseFromSource_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"missing codDocumento", `{"ano": 2024, "mes": 1}`},
		{"zero codDocumento", `{"codDocumento": 0, "ano": 2024, "mes": 1}`},
		{"missing ano", `{"codDocumento": 5, "mes": 1}`},
		{"month out of range", `{"codDocumento": 5, "ano": 2024, "mes": 13}`},
		{"bad amount", `{"codDocumento": 5, "ano": 2024, "mes": 1, "valorLiquido": "abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ExpenseFromSource(json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestLegislatureFromSource(t *testing.T) {
	t.Parallel()

	l, err := LegislatureFromSource(json.RawMessage(`{"id":57,"uri":"u","dataInicio":"2023-02-01","dataFim":"2027-01-31"}`))
	require.NoError(t, err)

	assert.Equal(t, int64(57), l.ExternalID)
	assert.Equal(t, 57, l.Number)
	assert.Equal(t, "2023-02-01", l.StartDate)
	assert.Equal(t, "2027-01-31", l.EndDate)

	_, err = LegislatureFromSource(json.RawMessage(`{"id":57,"dataInicio":"2023-02-01"}`))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestPartyFromSource(t *testing.T) {
	t.Parallel()

	p, err := PartyFromSource(json.RawMessage(`{"id":36844,"sigla":"XYZ","nome":"Partido XYZ","uri":"u","urlLogo":"https://logo"}`))
	require.NoError(t, err)

	assert.Equal(t, int64(36844), p.ExternalID)
	assert.Equal(t, "XYZ", p.Acronym)
	assert.Equal(t, "Partido XYZ", p.Name)
	assert.Equal(t, "https://logo", *p.LogoURL)

	p, err = PartyFromSource(json.RawMessage(`{"id":1,"sigla":"ABC"}`))
	require.NoError(t, err)
	assert.Equal(t, "ABC", p.Name)
	assert.Nil(t, p.LogoURL)

	_, err = PartyFromSource(json.RawMessage(`{"id":1,"nome":"No Acronym"}`))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
