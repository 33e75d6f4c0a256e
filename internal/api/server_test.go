package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/auth"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/events"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fablestore"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/jobs"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/storage"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

const adminKey = "admin-key"

var toy = fable.PluginID{Store: "ecmwf", Local: "toy1"}

func testCatalogue() catalogue.Catalogue {
	return catalogue.Catalogue{
		"ecmwf/toy1": {Factories: map[string]fable.Factory{
			"ekd_source": {Kind: fable.KindSource, ConfigurationOptions: map[string]fable.ConfigOption{
				"model": {ValueType: "str"},
			}},
			"regrid": {Kind: fable.KindTransform, Inputs: []string{"dataset"}},
			"mean":   {Kind: fable.KindProduct, Inputs: []string{"dataset"}},
			"zarr":   {Kind: fable.KindSink, Inputs: []string{"product"}},
		}},
	}
}

type testEnv struct {
	server *Server
	hub    *events.Hub
	http   *httptest.Server
}

func newTestEnv(t *testing.T, tokens ...auth.TokenConfig) *testEnv {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), storage.MemoryPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hub := events.NewHub(32)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{APIKey: adminKey, Tokens: tokens}, testCatalogue(), fablestore.NewStore(db), jobs.New(db), hub, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, hub: hub, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

// validDoc is source -> regrid -> mean -> zarr.
func validDoc() *fable.Builder {
	f := func(name string) fable.FactoryID { return fable.FactoryID{Plugin: toy, Factory: name} }
	return &fable.Builder{Blocks: map[fable.InstanceID]fable.BlockInstance{
		"src": {FactoryID: f("ekd_source"), ConfigurationValues: map[string]string{"model": "aifs"}, InputIDs: map[string]fable.InstanceID{}},
		"rg":  {FactoryID: f("regrid"), ConfigurationValues: map[string]string{}, InputIDs: map[string]fable.InstanceID{"dataset": "src"}},
		"mn":  {FactoryID: f("mean"), ConfigurationValues: map[string]string{}, InputIDs: map[string]fable.InstanceID{"dataset": "rg"}},
		"out": {FactoryID: f("zarr"), ConfigurationValues: map[string]string{}, InputIDs: map[string]fable.InstanceID{"product": "mn"}},
	}}
}

func TestHealthzNoAuth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)

	h := decode[HealthzResponse](t, resp)
	if h.Status != "ok" || h.Plugins != 1 || h.Factories != 4 {
		t.Fatalf("healthz = %+v", h)
	}
}

func TestAuthAndScopes(t *testing.T) {
	env := newTestEnv(t,
		auth.TokenConfig{Token: "reader", Scopes: []string{auth.ScopeFableRO}},
		auth.TokenConfig{Token: "jobs", Scopes: []string{auth.ScopeJobsRW}},
	)

	expectStatus(t, env.do(t, http.MethodGet, "/catalogue", "", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodGet, "/catalogue", "wrong", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodGet, "/catalogue", "reader", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/catalogue", "jobs", nil), http.StatusForbidden)

	req := FableRequest{Name: "x", Fable: validDoc()}
	expectStatus(t, env.do(t, http.MethodPost, "/fable", "reader", req), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPost, "/fable", adminKey, req), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodGet, "/events", "reader", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodGet, "/jobs", "jobs", nil), http.StatusOK)
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/fable/validate", adminKey, validDoc())
	expectStatus(t, resp, http.StatusOK)
	exp := decode[validation.Expansion](t, resp)
	if len(exp.GlobalErrors) != 0 || len(exp.BlockErrors) != 0 {
		t.Fatalf("expected valid pipeline, got %+v", exp)
	}
	if len(exp.PossibleSources) != 1 || exp.PossibleSources[0].Factory != "ekd_source" {
		t.Fatalf("possible_sources = %+v", exp.PossibleSources)
	}
	if len(exp.PossibleExpansions["src"]) == 0 {
		t.Fatalf("expected expansions for the source block, got %+v", exp.PossibleExpansions)
	}

	resp = env.do(t, http.MethodPost, "/fable/validate", adminKey, fable.New())
	expectStatus(t, resp, http.StatusOK)
	if empty := decode[validation.Expansion](t, resp); len(empty.GlobalErrors) != 1 || empty.GlobalErrors[0] != "pipeline has no blocks" {
		t.Fatalf("empty pipeline errors = %v", empty.GlobalErrors)
	}

	bad, err := http.Post(env.http.URL+"/fable/validate", "application/json", bytes.NewBufferString("{"))
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated validate status = %d", bad.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, env.http.URL+"/fable/validate", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+adminKey)
	malformed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer malformed.Body.Close()
	if malformed.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", malformed.StatusCode)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/fable/encode", adminKey, validDoc())
	expectStatus(t, resp, http.StatusOK)
	enc := decode[EncodeResponse](t, resp)
	if enc.TooLarge || enc.Length != len(enc.State) || enc.MaxLength != 6000 {
		t.Fatalf("encode = %+v", enc)
	}

	resp = env.do(t, http.MethodGet, "/fable/decode?state="+enc.State, adminKey, nil)
	expectStatus(t, resp, http.StatusOK)
	doc := decode[*fable.Builder](t, resp)
	if !validDoc().Equal(doc) {
		t.Fatalf("decoded document differs: %+v", doc)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/fable/decode?state=1.garbage", adminKey, nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/fable/decode", adminKey, nil), http.StatusBadRequest)
}

func TestGenerateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/plugin/ecmwf/toy1/generate?defaults=true", adminKey, nil)
	expectStatus(t, resp, http.StatusOK)
	doc := decode[*fable.Builder](t, resp)
	if len(doc.Blocks) != 4 {
		t.Fatalf("generated %d blocks, want 4", len(doc.Blocks))
	}
	for _, b := range doc.Blocks {
		if b.FactoryID.Factory == "ekd_source" && b.ConfigurationValues["model"] != "aifs-single" {
			t.Fatalf("model default = %q", b.ConfigurationValues["model"])
		}
	}

	expectStatus(t, env.do(t, http.MethodPost, "/plugin/nope/none/generate", adminKey, nil), http.StatusNotFound)
}

func TestFableLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/fable", adminKey, FableRequest{Name: "nightly", Fable: validDoc(), Tags: []string{"demo"}})
	expectStatus(t, resp, http.StatusCreated)
	created := decode[fablestore.Record](t, resp)
	if created.ID == "" || created.Name != "nightly" {
		t.Fatalf("created = %+v", created)
	}

	resp = env.do(t, http.MethodGet, "/fable/"+created.ID, adminKey, nil)
	expectStatus(t, resp, http.StatusOK)
	got := decode[fablestore.Record](t, resp)
	if !validDoc().Equal(got.Fable) {
		t.Fatalf("stored document differs")
	}

	resp = env.do(t, http.MethodGet, "/fable/"+created.ID+"/link", adminKey, nil)
	expectStatus(t, resp, http.StatusOK)
	link := decode[struct {
		State   string `json:"state"`
		FableID string `json:"fable_id"`
	}](t, resp)
	if link.State == "" || link.FableID != "" {
		t.Fatalf("small fable should inline its state, got %+v", link)
	}

	resp = env.do(t, http.MethodPut, "/fable/"+created.ID, adminKey, FableRequest{Name: "renamed", Fable: fable.New()})
	expectStatus(t, resp, http.StatusOK)
	if updated := decode[fablestore.Record](t, resp); updated.Name != "renamed" || len(updated.Fable.Blocks) != 0 {
		t.Fatalf("updated = %+v", updated)
	}

	resp = env.do(t, http.MethodGet, "/fables", adminKey, nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[FableListResponse](t, resp); len(list.Fables) != 1 {
		t.Fatalf("list = %+v", list)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/fable", adminKey, FableRequest{Name: "  "}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodDelete, "/fable/"+created.ID, adminKey, nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/fable/"+created.ID, adminKey, nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/fable/"+created.ID, adminKey, nil), http.StatusNotFound)

	types := []string{}
	for _, ev := range env.hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	want := []string{events.TypeFableSaved, events.TypeFableSaved, events.TypeFableDeleted}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t)

	invalid := validDoc()
	delete(invalid.Blocks, "out")
	resp := env.do(t, http.MethodPost, "/job", adminKey, JobRequest{Name: "run", Fable: invalid})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	rejected := decode[InvalidFableResponse](t, resp)
	if len(rejected.Expansion.GlobalErrors) == 0 {
		t.Fatalf("expected global errors in expansion, got %+v", rejected.Expansion)
	}

	resp = env.do(t, http.MethodPost, "/job", adminKey, JobRequest{
		Name:        "run",
		Fable:       validDoc(),
		Environment: map[string]string{"hosts": "2"},
	})
	expectStatus(t, resp, http.StatusAccepted)
	accepted := decode[JobResponse](t, resp)
	if accepted.JobID == "" || accepted.Status != jobs.StatusSubmitted {
		t.Fatalf("accepted = %+v", accepted)
	}

	resp = env.do(t, http.MethodGet, "/job/"+accepted.JobID, adminKey, nil)
	expectStatus(t, resp, http.StatusOK)
	job := decode[jobs.Job](t, resp)
	if job.Name != "run" || job.Environment["hosts"] != "2" || !validDoc().Equal(job.Fable) {
		t.Fatalf("job = %+v", job)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/job/missing", adminKey, nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodPost, "/job", adminKey, JobRequest{Name: "run"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/job", adminKey, JobRequest{Name: "run", FableID: "missing"}), http.StatusNotFound)
}

func TestSubmitJobFromSavedFable(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/fable", adminKey, FableRequest{Name: "saved", Fable: validDoc()})
	expectStatus(t, resp, http.StatusCreated)
	rec := decode[fablestore.Record](t, resp)

	resp = env.do(t, http.MethodPost, "/job", adminKey, JobRequest{Name: "from-saved", FableID: rec.ID})
	expectStatus(t, resp, http.StatusAccepted)

	var submitted bool
	for _, ev := range env.hub.SnapshotSince(0) {
		if ev.Type == events.TypeJobSubmitted {
			submitted = true
		}
	}
	if !submitted {
		t.Fatal("expected job.submitted event")
	}
}

func TestOpenAPIListsPlugins(t *testing.T) {
	doc := buildOpenAPIDoc(testCatalogue())
	if doc["openapi"] != "3.1.0" {
		t.Fatalf("openapi = %v", doc["openapi"])
	}
	paths := doc["paths"].(map[string]any)
	item, ok := paths["/plugin/ecmwf/toy1/generate"].(map[string]any)
	if !ok {
		t.Fatal("expected generate path for ecmwf/toy1")
	}
	op := item["post"].(map[string]any)
	if op["operationId"] != "ecmwf__toy1__generate" {
		t.Fatalf("operationId = %v", op["operationId"])
	}
	if op["description"] != "Factories: ekd_source, mean, regrid, zarr" {
		t.Fatalf("description = %v", op["description"])
	}
	if _, ok := paths["/job"]; !ok {
		t.Fatal("expected /job path")
	}
}
