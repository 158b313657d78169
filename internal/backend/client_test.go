package backend_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/ranking"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
	calls  int
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.calls++
	return m.doFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func newServer(t *testing.T, h http.HandlerFunc) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return backend.NewWithClient(srv.Client(), srv.URL+"/", nil)
}

func TestReverseGeocode(t *testing.T) {
	ctx := t.Context()

	t.Run("array result", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/proxy/address", r.URL.Path)
			assert.Equal(t, "127.1", r.URL.Query().Get("lon"))
			assert.Equal(t, "37.5", r.URL.Query().Get("lat"))
			w.Write([]byte(`{"status":"OK","data":"{\"response\":{\"status\":\"OK\",\"result\":[{\"text\":\"서울특별시 중구 세종대로 110\",\"type\":\"road\"},{\"text\":\"서울특별시 중구 태평로1가 31\",\"type\":\"parcel\"}]}}"}`))
		})

		addrs, err := c.ReverseGeocode(ctx, geo.Coordinate{127.1, 37.5})
		require.NoError(t, err)
		require.Len(t, addrs, 2)
		assert.Equal(t, "서울특별시 중구 세종대로 110", addrs[0].Text)
		assert.False(t, addrs[0].IsParcel())
		assert.True(t, addrs[1].IsParcel())
	})

	t.Run("single object result", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"OK","data":{"response":{"status":"OK","result":{"text":"경기도 성남시 수정구 산성대로 1","type":"road"}}}}`))
		})

		addrs, err := c.ReverseGeocode(ctx, geo.Coordinate{127.1, 37.5})
		require.NoError(t, err)
		require.Len(t, addrs, 1)
		assert.Equal(t, "road", addrs[0].Type)
	})

	t.Run("not found", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"OK","data":"{\"response\":{\"status\":\"NOT_FOUND\"}}"}`))
		})

		_, err := c.ReverseGeocode(ctx, geo.Coordinate{127.1, 37.5})
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("empty data", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"OK","data":""}`))
		})

		_, err := c.ReverseGeocode(ctx, geo.Coordinate{127.1, 37.5})
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("logical error", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"ERROR","message":"upstream timeout"}`))
		})

		_, err := c.ReverseGeocode(ctx, geo.Coordinate{127.1, 37.5})
		var apiErr *backend.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "ERROR", apiErr.Status)
		assert.Equal(t, "upstream timeout", apiErr.Message)
	})

	t.Run("invalid coordinate makes no request", func(t *testing.T) {
		mock := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
			t.Fatal("unexpected request")
			return nil, nil
		}}
		c := backend.NewWithClient(mock, "http://backend", nil)

		_, err := c.ReverseGeocode(ctx, orb.Point{200, 37.5})
		assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
		assert.Zero(t, mock.calls)
	})

	t.Run("transport error", func(t *testing.T) {
		mock := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}}
		c := backend.NewWithClient(mock, "http://backend", nil)

		_, err := c.ReverseGeocode(ctx, geo.Coordinate{127.1, 37.5})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, 1, mock.calls)
	})
}

func TestSearch(t *testing.T) {
	ctx := t.Context()

	t.Run("items with hints", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/proxy/search", r.URL.Path)
			assert.Equal(t, "서울시청", r.URL.Query().Get("address"))
			w.Write([]byte(`{"status":"OK","foundType":"place","query":"서울시청","data":"{\"response\":{\"status\":\"OK\",\"record\":{\"total\":\"2\"},\"result\":{\"items\":[{\"title\":\"<b>서울시청</b> 별관\",\"address\":{\"road\":\"서울 중구 덕수궁길 15\"},\"point\":{\"x\":\"126.975\",\"y\":\"37.565\"}},{\"title\":\"서울특별시청\",\"address\":{\"parcel\":\"태평로1가 31\"},\"point\":{\"x\":126.978,\"y\":37.566}}]}}}"}`))
		})

		res, err := c.Search(ctx, "  서울시청 ")
		require.NoError(t, err)
		assert.Equal(t, "place", res.FoundType)
		assert.Equal(t, "서울시청", res.Query)
		require.Len(t, res.Items, 2)
		assert.Equal(t, "<b>서울시청</b> 별관", res.Items[0].Title)
		assert.Equal(t, "서울 중구 덕수궁길 15", res.Items[0].Address.Road)
		assert.Equal(t, ranking.Point{X: "126.978", Y: "37.566"}, res.Items[1].Point)
	})

	t.Run("total zero is not found", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"OK","data":"{\"response\":{\"status\":\"OK\",\"record\":{\"total\":\"0\"}}}"}`))
		})

		_, err := c.Search(ctx, "없는곳")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("numeric total zero is not found", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"OK","data":{"response":{"status":"OK","record":{"total":0},"result":{"items":[]}}}}`))
		})

		_, err := c.Search(ctx, "없는곳")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("empty query makes no request", func(t *testing.T) {
		mock := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{}`), nil
		}}
		c := backend.NewWithClient(mock, "http://backend", nil)

		_, err := c.Search(ctx, " \t ")
		assert.ErrorIs(t, err, ranking.ErrEmptyQuery)
		assert.Zero(t, mock.calls)
	})

	t.Run("http error with plain body", func(t *testing.T) {
		mock := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusBadGateway, "bad gateway"), nil
		}}
		c := backend.NewWithClient(mock, "http://backend", nil)

		_, err := c.Search(ctx, "판교")
		var apiErr *backend.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.Equal(t, "bad gateway", apiErr.Message)
	})
}

func TestRiskPoints(t *testing.T) {
	ctx := t.Context()

	tests := []struct {
		category backend.Category
		path     string
		typ      string
	}{
		{backend.CategoryBlindSpot, "/api/risks/blind-spots", ""},
		{backend.CategoryRefinedRisk, "/api/risks/refined-risk", ""},
		{backend.CategoryCCTV, "/api/risks", "CCTV"},
		{backend.CategoryPolice, "/api/risks", "POLICE"},
		{backend.CategoryStreetLight, "/api/risks", "STREET_LIGHT"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, tt.typ, r.URL.Query().Get("type"))
				w.Write([]byte(`{"status":"OK","result":[{"lon":127.1,"lat":37.5,"score":2.5},{"longitude":127.2,"latitude":37.6,"weight":9,"type":"지구대"}]}`))
			})

			points, err := c.RiskPoints(ctx, tt.category)
			require.NoError(t, err)
			require.Len(t, points, 2)
			assert.Equal(t, backend.RiskPoint{Lon: 127.1, Lat: 37.5, Weight: 2.5, Category: tt.category}, points[0])
			assert.Equal(t, backend.RiskPoint{Lon: 127.2, Lat: 37.6, Weight: 9, Type: "지구대", Category: tt.category}, points[1])
		})
	}

	t.Run("missing coordinates", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"OK","result":[{"score":1}]}`))
		})

		_, err := c.RiskPoints(ctx, backend.CategoryCCTV)
		assert.ErrorContains(t, err, "risk point without coordinates")
	})

	t.Run("empty result", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"OK"}`))
		})

		points, err := c.RiskPoints(ctx, backend.CategoryPolice)
		require.NoError(t, err)
		assert.Empty(t, points)
	})
}

func TestTriggerImport(t *testing.T) {
	ctx := t.Context()

	t.Run("accepted", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/import", r.URL.Path)
			w.WriteHeader(http.StatusAccepted)
		})
		assert.NoError(t, c.TriggerImport(ctx))
	})

	t.Run("server error", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"status":"ERROR","message":"import already running"}`))
		})

		err := c.TriggerImport(ctx)
		var apiErr *backend.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, "import already running", apiErr.Message)
	})

	t.Run("long plain text error", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(strings.Repeat("실패", 100)))
		})

		err := c.TriggerImport(ctx)
		var apiErr *backend.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.True(t, utf8.ValidString(apiErr.Message), "message cut on a rune boundary")
		assert.Len(t, apiErr.Message, 198)
		assert.True(t, strings.HasPrefix(apiErr.Message, "실패실패"))
	})
}

func TestClientConfigAndPing(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/config":
			w.Write([]byte(`{"vworld":{"key":"KEY"},"map":{"center":{"lon":127.1388,"lat":37.4449}}}`))
		case "/ping":
			w.Write([]byte("pong"))
		default:
			http.NotFound(w, r)
		}
	})

	cfg, err := c.ClientConfig(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "KEY", cfg.VWorldKey)
	assert.InDelta(t, 127.1388, cfg.CenterLon, 1e-9)
	assert.InDelta(t, 37.4449, cfg.CenterLat, 1e-9)

	assert.NoError(t, c.Ping(t.Context()))
}

func TestParseCategory(t *testing.T) {
	c, err := backend.ParseCategory("STREET_LIGHT")
	require.NoError(t, err)
	assert.Equal(t, backend.CategoryStreetLight, c)

	_, err = backend.ParseCategory("street_light")
	assert.Error(t, err)
}
