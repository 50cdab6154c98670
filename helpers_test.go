package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/camara-sync/internal/model"
	"github.com/tonimelisma/camara-sync/internal/store"
)

// fakeCamara serves two deputies of legislature 57, their details and one
// 2024 expense each. Listings fit on a single page.
func fakeCamara(t *testing.T) *httptest.Server {
	t.Helper()

	deputies := map[int64]string{
		204521: "Maria Silva",
		204522: "Joao Souza",
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /deputados", func(w http.ResponseWriter, _ *http.Request) {
		recs := make([]string, 0, len(deputies))
		for _, id := range []int64{204521, 204522} {
			recs = append(recs, fmt.Sprintf(
				`{"id":%d,"nome":%q,"siglaPartido":"XYZ","siglaUf":"SP","idLegislatura":57,"email":"dep%d@camara.leg.br"}`,
				id, deputies[id], id))
		}

		writeDados(w, "["+strings.Join(recs, ",")+"]")
	})

	mux.HandleFunc("GET /deputados/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

		name, ok := deputies[id]
		if !ok {
			http.Error(w, `{"status":404,"title":"not found"}`, http.StatusNotFound)
			return
		}

		writeDados(w, fmt.Sprintf(
			`{"id":%d,"nomeCivil":"%s Civil","ultimoStatus":{"nome":%q,"siglaPartido":"XYZ","siglaUf":"SP",`+
				`"idLegislatura":57,"situacao":"Exercício","gabinete":{"email":"gab%d@camara.leg.br"}}}`,
			id, name, name, id))
	})

	mux.HandleFunc("GET /deputados/{id}/despesas", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

		if r.URL.Query().Get("ano") != "2024" {
			writeDados(w, "[]")
			return
		}

		writeDados(w, fmt.Sprintf(
			`[{"ano":2024,"mes":5,"tipoDespesa":"COMBUSTÍVEIS","codDocumento":%d,"tipoDocumento":"Nota Fiscal",`+
				`"codTipoDocumento":0,"dataDocumento":"2024-05-10T00:00:00","numDocumento":"NF-1",`+
				`"valorDocumento":12.34,"nomeFornecedor":"Posto","cnpjCpfFornecedor":"00000000000191",`+
				`"valorLiquido":12.34,"valorGlosa":0,"numRessarcimento":"","codLote":1,"parcela":0}]`,
			id*10))
	})

	mux.HandleFunc("GET /legislaturas", func(w http.ResponseWriter, _ *http.Request) {
		writeDados(w, `[{"id":57,"dataInicio":"2023-02-01","dataFim":"2027-01-31"}]`)
	})

	mux.HandleFunc("GET /partidos", func(w http.ResponseWriter, _ *http.Request) {
		writeDados(w, `[{"id":99,"sigla":"XYZ","nome":"Partido XYZ"}]`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func writeDados(w http.ResponseWriter, dados string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"dados":%s,"links":[]}`, dados)
}

// cliEnv is a config file and database in a temp dir, pointed at fakeCamara.
type cliEnv struct {
	dir        string
	configPath string
	dbPath     string
}

func newCLIEnv(t *testing.T, extraTOML string) *cliEnv {
	t.Helper()

	srv := fakeCamara(t)
	dir := t.TempDir()

	env := &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.toml"),
		dbPath:     filepath.Join(dir, "data", "camara.db"),
	}

	cfg := fmt.Sprintf(`[api]
base_url = %q
max_attempts = 1
cache_ttl = "0s"

[sync]
current_legislature = 57

[jobs]
workers = 2
stagger = "0s"
poll_interval = "20ms"

[schedule]
deputies = ""
expenses = ""
stale = ""
%s`, srv.URL, extraTOML)

	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))

	return env
}

// run executes one command tree against env and returns its stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--db", e.dbPath}, args...))

	err := cmd.ExecuteContext(context.Background())

	t.Logf("stderr of %v:\n%s", args, stderr.String())

	return stdout.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()

	out, err := e.run(t, args...)
	require.NoError(t, err, "command %v", args)

	return out
}

// seedDeputies stores deputies the fake API does not list, then runs each
// statement in extraSQL against the database.
func (e *cliEnv) seedDeputies(t *testing.T, ids []int64, extraSQL ...string) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Dir(e.dbPath), 0o700))

	st, err := store.Open(ctx, e.dbPath, nil)
	require.NoError(t, err)

	defer func() { require.NoError(t, st.Close()) }()

	for _, id := range ids {
		_, err := st.Deputies().Upsert(ctx, model.Deputy{
			ExternalID: id, Name: fmt.Sprintf("Seed %d", id), StateCode: "RJ", PartyAcronym: "XYZ",
		})
		require.NoError(t, err)
	}

	for _, q := range extraSQL {
		_, err := st.DB().ExecContext(ctx, q)
		require.NoError(t, err)
	}
}
