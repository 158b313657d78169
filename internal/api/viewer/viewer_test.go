package viewer_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-riskmap/internal/api/viewer"
	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/metrics"
	"github.com/joeblew999/plat-riskmap/internal/service"
	"github.com/joeblew999/plat-riskmap/internal/store"
	"github.com/joeblew999/plat-riskmap/internal/templates"
	"github.com/joeblew999/plat-riskmap/web"
)

const cookieName = "riskmap_session"

type geocoder struct{}

func (geocoder) ReverseGeocode(_ context.Context, c geo.Coordinate) ([]backend.Address, error) {
	if c.Lon() > 128 {
		return nil, backend.ErrNotFound
	}
	return []backend.Address{{Text: "세종대로 110", Type: "road"}}, nil
}

func (geocoder) Search(context.Context, string) (*backend.SearchResult, error) {
	return nil, backend.ErrNotFound
}

type source struct{}

func (source) RiskPoints(_ context.Context, cat backend.Category) ([]backend.RiskPoint, error) {
	return []backend.RiskPoint{{Lon: 127.1, Lat: 37.5, Weight: 4, Category: cat}}, nil
}

type trigger struct{}

func (trigger) TriggerImport(context.Context) error { return nil }

type testEnv struct {
	url      string
	client   *http.Client
	sessions *service.Registry
	layers   *service.LayerController
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	renderer, err := templates.New(web.FS)
	require.NoError(t, err)

	catalog := service.NewLayerService(t.TempDir())
	sessions := service.NewRegistry(service.RegistryOptions{IdleTTL: time.Hour, InitialZoom: 14, Metrics: metrics.Nop()})
	layers := service.NewLayerController(catalog, store.NewMemory(), source{}, sessions, metrics.Nop())
	cookies := viewer.Cookies{Registry: sessions, Name: cookieName}

	r := chi.NewRouter()
	api := humachi.New(r, huma.DefaultConfig("test", "1.0.0"))
	api.UseMiddleware(viewer.Sessions(cookies))
	viewer.NewHandler(viewer.Deps{
		Catalog:      catalog,
		Layers:       layers,
		Interactions: service.NewInteractions(geocoder{}, 17, 0),
		Importer:     service.NewImporter(trigger{}, layers, sessions, time.Hour, metrics.Nop()),
	}, renderer).RegisterRoutes(api)
	r.Method(http.MethodGet, "/", &viewer.Page{
		Config:   viewer.PageConfig{Title: "위험 지도", Center: geo.Coordinate{127.1388, 37.4449}, Zoom: 14},
		Cookies:  cookies,
		Catalog:  catalog,
		Renderer: renderer,
		Links:    func() []string { return []string{`</health>; rel="api"`} },
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		layers.Wait()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{url: srv.URL, client: &http.Client{Jar: jar}, sessions: sessions, layers: layers}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := e.client.Post(e.url+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

// session returns the session named by the client's cookie.
func (e *testEnv) session(t *testing.T) *service.Session {
	t.Helper()
	u, err := url.Parse(e.url)
	require.NoError(t, err)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == cookieName {
			s, ok := e.sessions.Get(c.Value)
			require.True(t, ok, "cookie names a live session")
			return s
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestPageSetsCookie(t *testing.T) {
	env := newEnv(t)

	resp, err := env.client.Get(env.url + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Set-Cookie"), cookieName+"=")
	assert.Equal(t, `</health>; rel="api"`, resp.Header.Get("Link"))
	assert.Equal(t, 1, env.sessions.Len())

	// the same browser keeps its session
	resp2, err := env.client.Get(env.url + "/")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Set-Cookie"))
	assert.Equal(t, 1, env.sessions.Len())
}

func TestClick(t *testing.T) {
	env := newEnv(t)

	resp := env.post(t, "/ui/click", `{"lon":126.978,"lat":37.5665}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"))

	snap := env.session(t).Snapshot()
	require.NotNil(t, snap.Popup)
	assert.Equal(t, service.PopupAddress, snap.Popup.Kind)
	assert.Equal(t, "세종대로 110", snap.Popup.Text)
	require.NotNil(t, snap.Marker)
	assert.InDelta(t, 126.978, snap.Marker.Lon(), 1e-9)

	resp = env.post(t, "/ui/click", `{"lon":129.0,"lat":35.1}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	snap = env.session(t).Snapshot()
	assert.Equal(t, service.PopupNotFound, snap.Popup.Kind)
}

func TestClickRejectsBadInput(t *testing.T) {
	env := newEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.post(t, "/ui/click", `{"lon":126.9}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/ui/click", `{"lon":200,"lat":37}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/ui/click", `{`).StatusCode)
}

func TestView(t *testing.T) {
	env := newEnv(t)

	require.Equal(t, http.StatusNoContent, env.post(t, "/ui/view", `{"zoom":15}`).StatusCode)
	assert.InDelta(t, 40, env.session(t).Snapshot().Heatmap.Radius, 1e-9)

	assert.Equal(t, http.StatusBadRequest, env.post(t, "/ui/view", `{"zoom":31}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/ui/view", `{}`).StatusCode)
}

func TestToggle(t *testing.T) {
	env := newEnv(t)

	require.Equal(t, http.StatusNoContent,
		env.post(t, "/ui/layers/cctv/toggle", `{"query":"","layers":{"cctv":true}}`).StatusCode)
	env.layers.Wait()

	s := env.session(t)
	assert.True(t, s.Visible(backend.CategoryCCTV))
	assert.Contains(t, s.Snapshot().Visible, backend.CategoryCCTV)

	require.Equal(t, http.StatusNoContent, env.post(t, "/ui/layers/cctv/toggle", `{"on":false}`).StatusCode)
	assert.False(t, s.Visible(backend.CategoryCCTV))

	assert.Equal(t, http.StatusNotFound, env.post(t, "/ui/layers/nope/toggle", `{"on":true}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/ui/layers/cctv/toggle", `{"query":"x"}`).StatusCode)
}

func TestClosePopup(t *testing.T) {
	env := newEnv(t)

	env.post(t, "/ui/click", `{"lon":126.978,"lat":37.5665}`)
	require.Equal(t, http.StatusNoContent, env.post(t, "/ui/popup/close", ``).StatusCode)

	snap := env.session(t).Snapshot()
	assert.Nil(t, snap.Popup)
	assert.Nil(t, snap.Marker)
}

func TestImportCooldown(t *testing.T) {
	env := newEnv(t)

	assert.Equal(t, http.StatusNoContent, env.post(t, "/ui/admin/import", ``).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, env.post(t, "/ui/admin/import", ``).StatusCode)
}

func TestEventsStream(t *testing.T) {
	env := newEnv(t)
	env.post(t, "/ui/view", `{"zoom":15}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.url+"/ui/events", nil)
	require.NoError(t, err)
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	waitFor := func(want string) {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream ended before %q", want)
				if strings.Contains(line, want) {
					return
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	// snapshot
	waitFor("riskmap:heatmap")
	waitFor("riskmap:popup")

	// live update from another request of the same session
	go func() {
		resp, err := env.client.Post(env.url+"/ui/click", "application/json",
			strings.NewReader(`{"lon":126.978,"lat":37.5665}`))
		if err == nil {
			resp.Body.Close()
		}
	}()
	waitFor("riskmap:marker")
	waitFor("세종대로 110")
}
