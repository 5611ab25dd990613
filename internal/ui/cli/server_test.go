package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribe/internal/core/app"
	"scribe/internal/core/config"
	"scribe/internal/shared/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, dbEnabled bool, limiters *util.LimiterRegistry) (*httptest.Server, fixture) {
	t.Helper()
	fx := newFixture(t, dbEnabled)
	cfg, err := config.Load(fx.cfgPath)
	require.NoError(t, err)
	engine, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	srv := httptest.NewServer(NewServer("", engine, limiters, true).Handler())
	t.Cleanup(srv.Close)
	return srv, fx
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, false, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status app.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "disabled", status.Components["history"])
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, false, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Audit(t *testing.T) {
	srv, fx := newTestServer(t, false, nil)

	resp := post(t, srv.URL+"/api/audit", map[string]any{"roots": []string{fx.root}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view auditView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, 2, view.Files)
	assert.Len(t, view.Findings, 4)
}

func TestServer_RejectsForeignRoot(t *testing.T) {
	srv, _ := newTestServer(t, false, nil)

	resp := post(t, srv.URL+"/api/audit", map[string]any{"roots": []string{t.TempDir()}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/api/audit", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bad, err := http.Post(srv.URL+"/api/audit", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestServer_RefactorAndRuns(t *testing.T) {
	srv, fx := newTestServer(t, true, nil)

	resp := post(t, srv.URL+"/api/scribe/refactor", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string         `json:"status"`
		RunID  string         `json:"run_id"`
		Report map[string]any `json:"report"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "SUCCESS", body.Status)
	assert.EqualValues(t, 4, body.Report["files_modified"])
	assert.Contains(t, body.Report, "equity_yield")

	data, err := os.ReadFile(filepath.Join(fx.root, "main.rs"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "PURIFIED_BY_SCRIBE")

	runs, err := http.Get(srv.URL + "/api/runs?limit=5")
	require.NoError(t, err)
	defer runs.Body.Close()
	assert.Equal(t, http.StatusOK, runs.StatusCode)

	findings, err := http.Get(srv.URL + "/api/runs/" + body.RunID + "/findings")
	require.NoError(t, err)
	defer findings.Body.Close()
	assert.Equal(t, http.StatusOK, findings.StatusCode)

	missing, err := http.Get(srv.URL + "/api/runs/nope/findings")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestServer_RunsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, false, nil)

	resp, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestServer_RateLimited(t *testing.T) {
	limiters := util.NewLimiterRegistry(0.001, 1, time.Minute)
	defer limiters.Close()
	srv, _ := newTestServer(t, false, limiters)

	first := post(t, srv.URL+"/api/audit", nil)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := post(t, srv.URL+"/api/audit", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "1", second.Header.Get("Retry-After"))
}
