package api

import (
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-riskmap/internal/db"
	"github.com/joeblew999/plat-riskmap/internal/store"
)

func TestReadOnly(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"  select * from layer_features;", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"SHOW TABLES", true},
		{"DESCRIBE layer_features", true},
		{"SUMMARIZE layer_features", true},
		{"DELETE FROM layer_features", false},
		{"SELECT 1; DROP TABLE layer_features", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, readOnly(tt.query), tt.query)
	}
}

func TestDBUnavailable(t *testing.T) {
	_, api := humatest.New(t)
	NewDBHandler(nil).RegisterRoutes(api)

	assert.Equal(t, http.StatusServiceUnavailable, api.Get("/api/v1/tables").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		api.Post("/api/v1/query", map[string]any{"query": "SELECT 1"}).Code)
}

func TestDBQuery(t *testing.T) {
	s, err := store.OpenDuckDB(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, api := humatest.New(t)
	NewDBHandler(s.DB()).RegisterRoutes(api)

	resp := api.Get("/api/v1/tables")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), store.FeatureTable)

	resp = api.Post("/api/v1/query", map[string]any{"query": "SELECT 42 AS answer"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"columns":["answer"]`)
	assert.Contains(t, resp.Body.String(), `"answer":42`)
	assert.Contains(t, resp.Body.String(), `"count":1`)

	resp = api.Post("/api/v1/query", map[string]any{"query": "SELECT * FROM range(1500)"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"count":1000`)
	assert.Contains(t, resp.Body.String(), `"truncated":true`)

	resp = api.Post("/api/v1/query", map[string]any{"query": "DROP TABLE layer_features"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.Post("/api/v1/query", map[string]any{"query": "SELECT * FROM missing_table"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
