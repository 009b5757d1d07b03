package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/indexer"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	started []domain.RunRequest
	status  map[string]domain.RunStatus
}

func (f *fakeRunner) StartRun(_ context.Context, req domain.RunRequest) (domain.RunStatus, error) {
	if req.UserID == "" {
		return domain.RunStatus{State: domain.RunIdle}, apperrors.NewInvalidRequestError("user id is required")
	}
	if s, ok := f.status[req.UserID]; ok && s.Running {
		return s, apperrors.NewConcurrentRunError(req.UserID)
	}
	f.started = append(f.started, req)
	s := domain.RunStatus{RunID: "r1", UserID: req.UserID, State: domain.RunRunning, Running: true}
	f.status[req.UserID] = s
	return s, nil
}

func (f *fakeRunner) Status(userID string) domain.RunStatus {
	if s, ok := f.status[userID]; ok {
		return s
	}
	return domain.RunStatus{UserID: userID, State: domain.RunIdle}
}

func (f *fakeRunner) StopRun(userID string) (domain.RunStatus, bool) {
	s, ok := f.status[userID]
	if !ok || !s.Running {
		return f.Status(userID), false
	}
	s.State, s.Running, s.Message = domain.RunCancelled, false, "stopped"
	f.status[userID] = s
	return s, true
}

type testServer struct {
	handler http.Handler
	runner  *fakeRunner
	sites   *registry.Registry
	store   *indexer.MemoryStore
}

func createTestServer(t *testing.T) *testServer {
	ts := &testServer{
		runner: &fakeRunner{status: make(map[string]domain.RunStatus)},
		sites:  registry.New(registry.DefaultProfiles(), registry.Config{}),
		store:  indexer.NewMemoryStore(func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }),
	}
	ts.handler = NewServer(Config{
		Runs:   ts.runner,
		Sites:  ts.sites,
		Store:  ts.store,
		Logger: logger.NewTestLogger(t),
	}).Handler()
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRuns_StartStatusStop(t *testing.T) {
	ts := createTestServer(t)

	rec := ts.do(http.MethodPost, "/runs", `{"user_id":"u1","query":"Paris 17e","radius_km":5,"sources":["pap","leboncoin"],"max_pages":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	started := decodeBody[domain.RunStatus](t, rec)
	assert.Equal(t, domain.RunRunning, started.State)
	require.Len(t, ts.runner.started, 1)
	assert.Equal(t, []domain.SourceKey{domain.SourcePap, domain.SourceLeboncoin}, ts.runner.started[0].Sources)
	assert.Equal(t, 2, ts.runner.started[0].MaxPages)

	rec = ts.do(http.MethodPost, "/runs", `{"user_id":"u1","query":"Lyon"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	refused := decodeBody[errorBody](t, rec)
	assert.Equal(t, string(apperrors.ErrCodeConcurrentRun), refused.Code)
	require.NotNil(t, refused.Status)
	assert.Equal(t, "r1", refused.Status.RunID)

	rec = ts.do(http.MethodGet, "/runs/u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[domain.RunStatus](t, rec).Running)

	rec = ts.do(http.MethodPost, "/runs/u1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stopped := decodeBody[domain.RunStatus](t, rec)
	assert.Equal(t, domain.RunCancelled, stopped.State)
	assert.Equal(t, "stopped", stopped.Message)

	rec = ts.do(http.MethodPost, "/runs/u1/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRuns_BadRequests(t *testing.T) {
	ts := createTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/runs", `{"user_id":`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/runs", `{"query":"Lyon"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodDelete, "/runs/u1", "").Code)

	rec := ts.do(http.MethodGet, "/runs/nobody", "")
	assert.Equal(t, domain.RunIdle, decodeBody[domain.RunStatus](t, rec).State)
}

func TestSites_KillSwitch(t *testing.T) {
	ts := createTestServer(t)

	rec := ts.do(http.MethodGet, "/sites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sites := decodeBody[[]registry.SiteStatus](t, rec)
	assert.Len(t, sites, len(registry.DefaultProfiles()))

	rec = ts.do(http.MethodPost, "/sites/leboncoin/disable", `{"reason":"captcha wall"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[registry.SiteStatus](t, rec)
	assert.False(t, st.Available)
	assert.Equal(t, "captcha wall", st.Reason)
	assert.False(t, ts.sites.Available(domain.SourceLeboncoin))

	rec = ts.do(http.MethodPost, "/sites/leboncoin/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.sites.Available(domain.SourceLeboncoin))

	rec = ts.do(http.MethodPost, "/sites/pap/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled by operator", ts.sites.DisabledReason(domain.SourcePap))

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/sites/seloger/disable", "").Code)
}

func TestListings(t *testing.T) {
	ts := createTestServer(t)
	ctx := context.Background()
	_, err := ts.store.InsertListings(ctx, "u1", []domain.Listing{
		{Title: "Studio", PriceEUR: 250000, URL: "https://www.pap.fr/a/1", Source: domain.SourcePap, LocationText: "Paris (75017)"},
		{Title: "T3", PriceEUR: 410000, URL: "https://www.pap.fr/a/2", Source: domain.SourcePap, LocationText: "Paris (75017)"},
	})
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/users/u1/listings?sort=price_eur&order=asc&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]domain.StoredListing](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, 250000, got[0].PriceEUR)

	rec = ts.do(http.MethodPatch, "/users/u1/listings", `{"url":"https://www.pap.fr/a/1","status":"Contacté"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/users/u1/listings?status=Contact%C3%A9", "")
	assert.Len(t, decodeBody[[]domain.StoredListing](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPatch, "/users/u1/listings", `{"url":"https://www.pap.fr/a/1","status":"Vendu"}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPatch, "/users/u1/listings", `{"url":"https://www.pap.fr/a/9","status":"Contacté"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/users/u1/listings?limit=x", "").Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/users/u1/listings?url=https://www.pap.fr/a/2", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/users/u1/listings?url=https://www.pap.fr/a/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodDelete, "/users/u1/listings", "").Code)

	rec = ts.do(http.MethodGet, "/users/u2/listings", "")
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = ts.do(http.MethodPost, "/users/u1/listings/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[map[string]int](t, rec)["deleted"])
}

func TestStorageFailureIsBadGateway(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperrors.NewStorageError("get listings", assert.AnError), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := createTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "").Code)

	rec := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "immo_runs_active")
}
