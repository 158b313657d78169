package api

import (
	"context"
	"database/sql"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-riskmap/internal/db"
)

// maxQueryRows caps rows returned by /api/v1/query.
const maxQueryRows = 1000

// DBHandler exposes the DuckDB feature cache for inspection.
type DBHandler struct {
	db *sql.DB
}

// NewDBHandler creates a new database handler. A nil db answers 503.
func NewDBHandler(conn *sql.DB) *DBHandler {
	return &DBHandler{db: conn}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("db"))
}

type TablesBody struct {
	Tables []string `json:"tables" doc:"List of table names"`
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*struct{ Body TablesBody }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	tables, err := db.Tables(ctx, h.db)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	if tables == nil {
		tables = []string{}
	}
	return &struct{ Body TablesBody }{Body: TablesBody{Tables: tables}}, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" minLength:"1" doc:"Read-only SQL query" example:"SELECT category, count(*) FROM layer_features GROUP BY 1"`
	}
}

type QueryBody struct {
	Columns   []string         `json:"columns" doc:"Column names"`
	Rows      []map[string]any `json:"rows" doc:"Query results"`
	Count     int              `json:"count" doc:"Number of rows returned"`
	Truncated bool             `json:"truncated,omitempty" doc:"More rows matched than were returned"`
}

// Query runs a read-only SQL query against DuckDB.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*struct{ Body QueryBody }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	if !readOnly(input.Body.Query) {
		return nil, huma.Error400BadRequest("only SELECT, SHOW, DESCRIBE and WITH queries are allowed")
	}

	rows, err := h.db.QueryContext(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get columns", err)
	}

	body := QueryBody{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		if len(body.Rows) == maxQueryRows {
			body.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, huma.Error500InternalServerError("Failed to scan row", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		body.Rows = append(body.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	body.Count = len(body.Rows)

	return &struct{ Body QueryBody }{Body: body}, nil
}

func readOnly(q string) bool {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "SHOW", "DESCRIBE", "WITH", "SUMMARIZE":
		return !strings.Contains(strings.TrimRight(strings.TrimSpace(q), ";"), ";")
	}
	return false
}
