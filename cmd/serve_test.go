package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scout/internal/enrich"
	"github.com/sells-group/provider-scout/internal/estimate"
	"github.com/sells-group/provider-scout/internal/ingest"
	"github.com/sells-group/provider-scout/internal/model"
	"github.com/sells-group/provider-scout/internal/recruit"
	"github.com/sells-group/provider-scout/internal/store"
	"github.com/sells-group/provider-scout/pkg/nppes"
)

type fakeRegistry struct {
	results []nppes.Result
}

func (f *fakeRegistry) Search(_ context.Context, req nppes.SearchRequest) ([]nppes.Result, error) {
	if req.Skip > 0 {
		return nil, nil
	}
	return f.results, nil
}

func (f *fakeRegistry) LookupNPI(context.Context, string) (*nppes.Result, error) {
	return nil, nil
}

type fakeEngine struct {
	results map[string]*enrich.Result
}

func (f *fakeEngine) EnrichBatch(_ context.Context, reqs []enrich.Request) []*enrich.Result {
	out := make([]*enrich.Result, len(reqs))
	for i, r := range reqs {
		out[i] = f.results[r.FirstName]
	}
	return out
}

func newTestServer(t *testing.T, registry *fakeRegistry, engine *fakeEngine) (store.Store, http.Handler) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	if registry == nil {
		registry = &fakeRegistry{}
	}
	if engine == nil {
		engine = &fakeEngine{}
	}

	loader := ingest.NewLoader(registry, st, estimate.NewEstimator(estimate.DefaultTables()))
	sched := recruit.NewScheduler(st, engine, nil, recruit.Config{BatchSize: 10, CreditCap: 100})

	return st, newRouter(context.Background(), st, loader, sched, nil)
}

func registryResult(npi, first, last string) nppes.Result {
	return nppes.Result{
		Number: npi,
		Basic:  nppes.Basic{FirstName: first, LastName: last, Credential: "MD"},
		Addresses: []nppes.Address{
			{
				AddressPurpose:  "LOCATION",
				Address1:        "100 Main St",
				City:            "NOVI",
				State:           "MI",
				PostalCode:      "48375",
				TelephoneNumber: "248-555-0100",
			},
		},
	}
}

func TestServe_Health(t *testing.T) {
	_, router := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_LoadValidation(t *testing.T) {
	_, router := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing_city", `{"specialty":"dentist"}`},
		{"missing_specialty", `{"city":"Novi"}`},
		{"malformed_json", `{"city":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/leads/load", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServe_LoadAsync(t *testing.T) {
	registry := &fakeRegistry{results: []nppes.Result{
		registryResult("1000000001", "JANE", "DOE"),
		registryResult("1000000002", "JOHN", "SMITH"),
	}}
	st, router := newTestServer(t, registry, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/leads/load",
		bytes.NewBufferString(`{"city":"Novi","state":"MI","specialty":"dentist","limit":50}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["run_id"])

	require.Eventually(t, func() bool {
		runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusComplete})
		return err == nil && len(runs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	leads, err := st.SearchLeads(context.Background(), store.LeadFilter{City: "Novi"})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}

func TestServe_RecruitAsync(t *testing.T) {
	engine := &fakeEngine{results: map[string]*enrich.Result{
		"Jane": {
			Email:       "jane@clinic.com",
			EmailStatus: "verified",
			Confidence:  0.95,
			DataSource:  "apollo.io",
		},
	}}
	st, router := newTestServer(t, nil, engine)

	_, err := st.InsertProviders(context.Background(), []model.ProviderRecord{
		{NPI: "1000000001", Name: "Dr. Jane Doe, MD", City: "Novi", State: "MI", Specialty: "dentist"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/leads/recruit",
		bytes.NewBufferString(`{"city":"Novi","state":"MI","specialty":"dentist"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		runs, err := st.ListRuns(context.Background(), store.RunFilter{
			Operation: model.OperationRecruit,
			Status:    model.RunStatusComplete,
		})
		return err == nil && len(runs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	leads, err := st.SearchLeads(context.Background(), store.LeadFilter{City: "Novi"})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.True(t, leads[0].HasEmail)
	assert.Equal(t, "jane@clinic.com", leads[0].Email)
}

func TestServe_LeadsEndpoint(t *testing.T) {
	st, router := newTestServer(t, nil, nil)

	_, err := st.InsertProviders(context.Background(), []model.ProviderRecord{
		{NPI: "1000000001", Name: "Dr. A B", City: "Novi", State: "MI"},
		{NPI: "1000000002", Name: "Dr. C D", City: "Troy", State: "MI"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/leads?city=Novi", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var leads []model.ProviderRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leads))
	require.Len(t, leads, 1)
	assert.Equal(t, "1000000001", leads[0].NPI)
}

func TestServe_LeadsEndpoint_Empty(t *testing.T) {
	_, router := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/leads", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServe_StatsEndpoint(t *testing.T) {
	st, router := newTestServer(t, nil, nil)

	_, err := st.InsertProviders(context.Background(), []model.ProviderRecord{
		{NPI: "1000000001", Name: "Dr. A B", City: "Novi", State: "MI", Email: "a@b.com", HasEmail: true},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stats store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalProviders)
	assert.Equal(t, 1, stats.WithEmail)
}

func TestServe_RunsEndpoint(t *testing.T) {
	st, router := newTestServer(t, nil, nil)

	run, err := st.CreateRun(context.Background(), model.OperationLoad, "Novi", "dentist")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(context.Background(), run.ID, model.RunStatusComplete,
		map[string]any{"leads_loaded": 5}, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/runs?operation=load", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var runs []model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		in   string
		def  int
		want int
	}{
		{"", 50, 50},
		{"25", 50, 25},
		{"0", 50, 0},
		{"-3", 50, 50},
		{"abc", 50, 50},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, queryInt(tt.in, tt.def))
	}
}
