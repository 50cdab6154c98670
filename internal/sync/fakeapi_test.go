package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/camara-sync/internal/camara"
	"github.com/tonimelisma/camara-sync/internal/jobs"
	"github.com/tonimelisma/camara-sync/internal/store"
)

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fakeAPI is an in-memory Camara API. Records are raw JSON objects; listings
// are paginated with absolute next links like the real service.
type fakeAPI struct {
	mu           stdsync.Mutex
	srv          *httptest.Server
	deputies     []string
	details      map[int64]string
	expenses     map[int64][]string
	legislatures []string
	parties      []string
	partyDetails map[int64]string
	// failPages maps "path?pagina" to a forced 500.
	failPages map[string]bool
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	f := &fakeAPI{
		details:   map[int64]string{},
		expenses:  map[int64][]string{},
		failPages: map[string]bool{},
		partyDetails: map[int64]string{
			99: `{"id":99,"sigla":"XYZ","nome":"Partido XYZ","uri":"https://api/partidos/99",` +
				`"urlLogo":"https://www.camara.leg.br/internet/Deputado/img/partidos/XYZ.gif"}`,
		},
		legislatures: []string{
			`{"id":56,"uri":"https://api/legislaturas/56","dataInicio":"2019-02-01","dataFim":"2023-01-31"}`,
			`{"id":57,"uri":"https://api/legislaturas/57","dataInicio":"2023-02-01","dataFim":"2027-01-31"}`,
		},
		parties: []string{
			`{"id":99,"sigla":"XYZ","nome":"Partido XYZ","uri":"https://api/partidos/99"}`,
			`{"id":98,"sigla":"ABC","nome":"Partido ABC","uri":"https://api/partidos/98"}`,
		},
	}

	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeAPI) setDeputies(recs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deputies = recs
}

func (f *fakeAPI) setDetail(id int64, rec string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.details[id] = rec
}

func (f *fakeAPI) setExpenses(id int64, recs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.expenses[id] = recs
}

func (f *fakeAPI) failPage(path string, page int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failPages[path+"?"+strconv.Itoa(page)] = true
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")

	switch {
	case path == "deputados":
		f.list(w, r, path, f.deputies)
	case len(parts) == 2 && parts[0] == "deputados":
		id, _ := strconv.ParseInt(parts[1], 10, 64)

		rec, ok := f.details[id]
		if !ok {
			http.Error(w, `{"status":404,"title":"not found"}`, http.StatusNotFound)
			return
		}

		writeEnvelope(w, rec, nil)
	case len(parts) == 3 && parts[0] == "deputados" && parts[2] == "despesas":
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		f.list(w, r, path, f.expenses[id])
	case path == "legislaturas" && r.URL.Query().Get("data") != "":
		writeEnvelope(w, `[{"id":57}]`, nil)
	case path == "legislaturas":
		f.list(w, r, path, f.legislatures)
	case path == "partidos":
		f.list(w, r, path, f.parties)
	case len(parts) == 2 && parts[0] == "partidos":
		id, _ := strconv.ParseInt(parts[1], 10, 64)

		rec, ok := f.partyDetails[id]
		if !ok {
			http.Error(w, `{"status":404,"title":"not found"}`, http.StatusNotFound)
			return
		}

		writeEnvelope(w, rec, nil)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) list(w http.ResponseWriter, r *http.Request, path string, recs []string) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("pagina"))
	if page < 1 {
		page = 1
	}

	if f.failPages[path+"?"+strconv.Itoa(page)] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	size, _ := strconv.Atoi(q.Get("itens"))
	if size < 1 {
		size = 100
	}

	start := min((page-1)*size, len(recs))
	end := min(start+size, len(recs))

	links := []camara.Link{{Rel: "self", Href: f.srv.URL + r.URL.RequestURI()}}

	if end < len(recs) {
		next := r.URL.Query()
		next.Set("pagina", strconv.Itoa(page+1))
		next.Set("itens", strconv.Itoa(size))
		links = append(links, camara.Link{Rel: "next", Href: f.srv.URL + "/" + path + "?" + next.Encode()})
	}

	writeEnvelope(w, "["+strings.Join(recs[start:end], ",")+"]", links)
}

func writeEnvelope(w http.ResponseWriter, dados string, links []camara.Link) {
	if links == nil {
		links = []camara.Link{}
	}

	linksJSON, _ := json.Marshal(links)

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"dados":%s,"links":%s}`, dados, linksJSON)
}

func listingRecord(id int64, name, state, party string) string {
	return fmt.Sprintf(`{"id":%d,"uri":"https://api/deputados/%d","nome":%q,"siglaPartido":%q,`+
		`"siglaUf":%q,"idLegislatura":57,"urlFoto":"https://foto/%d.jpg","email":"dep%d@camara.leg.br"}`,
		id, id, name, party, state, id, id)
}

func expenseRecord(code int64, year, month int, net string) string {
	return fmt.Sprintf(`{"ano":%d,"mes":%d,"tipoDespesa":"COMBUSTÍVEIS","codDocumento":%d,`+
		`"tipoDocumento":"Nota Fiscal","codTipoDocumento":0,"dataDocumento":"%d-%02d-10T00:00:00",`+
		`"numDocumento":"NF-%d","valorDocumento":%s,"urlDocumento":null,"nomeFornecedor":"Posto",`+
		`"cnpjCpfFornecedor":"00000000000191","valorLiquido":%s,"valorGlosa":0,`+
		`"numRessarcimento":"","codLote":1880023,"parcela":0}`,
		year, month, code, year, month, code, net, net)
}

// harness wires a real client, store, scheduler and orchestrator around a
// fakeAPI.
type harness struct {
	api   *fakeAPI
	store *store.Store
	sched *jobs.Scheduler
	pool  *jobs.WorkerPool
	orch  *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := testLogger(t)
	api := newFakeAPI(t)

	client, err := camara.NewClient(camara.Config{
		BaseURL: api.srv.URL,
		Timeout: 5 * time.Second,
		Retry:   camara.RetryPolicy{MaxAttempts: 1},
		// Two records per page so every listing exercises pagination.
		PageSize: 2,
	}, api.srv.Client(), logger)
	require.NoError(t, err)

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, st.Close()) })

	sched := jobs.NewScheduler(jobs.NewQueue(st.DB(), logger), jobs.Config{Stagger: -1}, logger)
	pool := jobs.NewWorkerPool(sched, logger)

	orch := New(client, st, sched, Config{}, logger)
	orch.Register(pool)

	return &harness{api: api, store: st, sched: sched, pool: pool, orch: orch}
}
