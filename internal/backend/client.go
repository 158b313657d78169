// Package backend is the HTTP client for the risk scoring and geocoding API.
//
// Every endpoint answers with a {status, ...} envelope. Transport and decode
// failures are wrapped with eris; logical failures surface as *APIError and
// missing data as ErrNotFound. Nothing here retries.
package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/metrics"
	"github.com/joeblew999/plat-riskmap/internal/ranking"
)

const statusOK = "OK"

// ErrNotFound is returned when the backend has no data for the request.
var ErrNotFound = eris.New("no matching result")

// HTTPClient is the subset of *http.Client used by Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the backend API.
type Client struct {
	http    HTTPClient
	baseURL string
	metrics *metrics.Metrics
}

// New creates a client with its own *http.Client.
func New(baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	return NewWithClient(&http.Client{Timeout: timeout}, baseURL, m)
}

// NewWithClient allows injecting a custom HTTP client.
func NewWithClient(hc HTTPClient, baseURL string, m *metrics.Metrics) *Client {
	if m == nil {
		m = metrics.Nop()
	}
	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: m,
	}
}

// ReverseGeocode returns the addresses at c, road and parcel forms in
// backend order.
func (c *Client) ReverseGeocode(ctx context.Context, coord geo.Coordinate) ([]Address, error) {
	if err := geo.Validate(coord); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("lon", strconv.FormatFloat(coord.Lon(), 'f', -1, 64))
	q.Set("lat", strconv.FormatFloat(coord.Lat(), 'f', -1, 64))

	env, err := c.envelope(ctx, "address", http.MethodGet, "/api/proxy/address", q)
	if err != nil {
		return nil, err
	}

	body, ok, err := env.payload()
	if err != nil {
		return nil, eris.Wrap(err, "backend: decode address data")
	}
	if !ok {
		return nil, ErrNotFound
	}

	var p addressPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "backend: decode address payload")
	}
	if p.Response.notFound() {
		return nil, ErrNotFound
	}
	if p.Response.Status != statusOK {
		return nil, &APIError{StatusCode: http.StatusOK, Status: p.Response.Status}
	}

	addrs, err := decodeAddresses(p.Response.Result)
	if err != nil {
		return nil, eris.Wrap(err, "backend: decode address result")
	}
	if len(addrs) == 0 {
		return nil, ErrNotFound
	}
	return addrs, nil
}

// Search returns place and address candidates for a free-text query.
func (c *Client) Search(ctx context.Context, query string) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ranking.ErrEmptyQuery
	}

	q := url.Values{}
	q.Set("address", query)

	env, err := c.envelope(ctx, "search", http.MethodGet, "/api/proxy/search", q)
	if err != nil {
		return nil, err
	}

	body, ok, err := env.payload()
	if err != nil {
		return nil, eris.Wrap(err, "backend: decode search data")
	}
	if !ok {
		return nil, ErrNotFound
	}

	var p searchPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "backend: decode search payload")
	}
	if p.Response.notFound() || len(p.Response.Result.Items) == 0 {
		return nil, ErrNotFound
	}
	if p.Response.Status != statusOK {
		return nil, &APIError{StatusCode: http.StatusOK, Status: p.Response.Status}
	}

	res := &SearchResult{FoundType: env.FoundType, Query: env.Query}
	for _, it := range p.Response.Result.Items {
		res.Items = append(res.Items, it.candidate())
	}
	return res, nil
}

// RiskPoints fetches every scored point for a category.
func (c *Client) RiskPoints(ctx context.Context, cat Category) ([]RiskPoint, error) {
	path, params := cat.Path()
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}

	env, err := c.envelope(ctx, "risks", http.MethodGet, path, q)
	if err != nil {
		return nil, err
	}

	var points []RiskPoint
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &points); err != nil {
			return nil, eris.Wrapf(err, "backend: decode %s points", cat)
		}
	}
	for i := range points {
		points[i].Category = cat
	}
	return points, nil
}

// TriggerImport starts the backend ingestion job. Any 2xx is success.
func (c *Client) TriggerImport(ctx context.Context) error {
	resp, err := c.do(ctx, "import", http.MethodPost, "/api/import", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return apiErrorFrom(resp)
	}
	return nil
}

// ClientConfig returns the tile key and map center configured on the backend.
func (c *Client) ClientConfig(ctx context.Context) (*ClientConfig, error) {
	resp, err := c.do(ctx, "config", http.MethodGet, "/api/config", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, apiErrorFrom(resp)
	}

	var raw struct {
		VWorld struct {
			Key string `json:"key"`
		} `json:"vworld"`
		Map struct {
			Center struct {
				Lon float64 `json:"lon"`
				Lat float64 `json:"lat"`
			} `json:"center"`
		} `json:"map"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "backend: decode config")
	}
	return &ClientConfig{
		VWorldKey: raw.VWorld.Key,
		CenterLon: raw.Map.Center.Lon,
		CenterLat: raw.Map.Center.Lat,
	}, nil
}

// Ping checks that the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, "ping", http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// envelope performs a request and decodes the status wrapper, turning
// non-OK statuses into *APIError.
func (c *Client) envelope(ctx context.Context, endpoint, method, path string, q url.Values) (*envelope, error) {
	resp, err := c.do(ctx, endpoint, method, path, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "backend: read %s response", endpoint)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return nil, &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Message: truncate(string(body))}
		}
		return nil, eris.Wrapf(err, "backend: decode %s envelope", endpoint)
	}

	if resp.StatusCode/100 != 2 || env.Status != statusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Status: env.Status, Message: env.Message}
	}
	return &env, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, q url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "backend: build %s request", endpoint)
	}
	req.Header.Set("Accept", "application/json")

	zap.L().Debug("backend request", zap.String("endpoint", endpoint), zap.String("url", u))

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.BackendSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.BackendRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, eris.Wrapf(err, "backend: %s request", endpoint)
	}
	c.metrics.BackendRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

func apiErrorFrom(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		apiErr.Status = env.Status
		apiErr.Message = env.Message
	} else {
		apiErr.Message = truncate(string(body))
	}
	return apiErr
}

// truncate caps s at 200 bytes without splitting a UTF-8 sequence.
func truncate(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	n := max
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
