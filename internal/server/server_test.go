package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-riskmap/internal/config"
	"github.com/joeblew999/plat-riskmap/internal/store"
	"github.com/joeblew999/plat-riskmap/web"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusOK)
		case "/api/config":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"vworld":{"key":"TESTKEY123"},"map":{"center":{"lon":127.1,"lat":37.4}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.Close)
	return b
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Backend.BaseURL = backendURL
	cfg.Store.DataDir = t.TempDir()
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, Options{Host: "127.0.0.1", Port: 8086})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMapPage(t *testing.T) {
	srv := newTestServer(t, testConfig(t, newBackend(t).URL))

	rec := get(t, srv, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "riskmap_session=")
	assert.Contains(t, rec.Header().Values("Link"), `</api/v1/layers>; rel="layers"`)
	assert.Contains(t, rec.Body.String(), `id="map"`)
	assert.Contains(t, rec.Body.String(), "/static/mapview.js")
	assert.Equal(t, 1, srv.Sessions().Len())
}

func TestStaticFiles(t *testing.T) {
	srv := newTestServer(t, testConfig(t, newBackend(t).URL))

	rec := get(t, srv, "/static/mapview.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "'riskmap:'")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, testConfig(t, newBackend(t).URL))

	rec := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":"ok"`)
	assert.Contains(t, rec.Header().Values("Link"), `</openapi.json>; rel="service-desc"`)

	rec = get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "riskmap_active_sessions")
	assert.Contains(t, rec.Body.String(), "riskmap_backend_requests_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestOpenAPI(t *testing.T) {
	srv := newTestServer(t, testConfig(t, newBackend(t).URL))

	oapi := srv.OpenAPI()
	for _, p := range []string{"/health", "/api/v1/layers/{id}", "/api/v1/rank", "/ui/click", "/ui/events"} {
		assert.Contains(t, oapi.Paths, p)
	}
	assert.Equal(t, "http://127.0.0.1:8086", oapi.Servers[0].URL)
}

func TestStartLoadsTileKey(t *testing.T) {
	srv := newTestServer(t, testConfig(t, newBackend(t).URL))
	srv.Start(t.Context())

	rec := get(t, srv, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "TESTKEY123")

	rec = get(t, srv, "/api/v1/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "TESTKEY123")
	assert.Contains(t, srv.TileURL(), "TESTKEY123")
}

func TestDuckDBStore(t *testing.T) {
	cfg := testConfig(t, newBackend(t).URL)
	cfg.Store.Driver = DriverDuckDB
	srv := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"SELECT count(*) AS n FROM layer_features"}`))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"n":0`)

	rec = get(t, srv, "/api/v1/info")
	assert.Contains(t, rec.Body.String(), `"db":true`)
}

func TestUnknownStoreDriver(t *testing.T) {
	cfg := testConfig(t, newBackend(t).URL)
	cfg.Store.Driver = "redis"

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrUnknownDriver))
}

func TestWebDirReloadsTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.CopyFS(dir, web.FS))

	srv, err := New(testConfig(t, newBackend(t).URL), Options{WebDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	require.NotContains(t, get(t, srv, "/").Body.String(), "edited page")

	page := filepath.Join(dir, "templates", "map.html")
	require.NoError(t, os.WriteFile(page, []byte(`<p>edited page</p>`), 0o644))
	assert.Contains(t, get(t, srv, "/").Body.String(), "edited page")
}

func TestWebDirMissing(t *testing.T) {
	_, err := New(testConfig(t, newBackend(t).URL), Options{WebDir: "/does/not/exist"})
	assert.Error(t, err)
}
