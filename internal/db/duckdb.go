// Package db opens the DuckDB database backing the optional feature store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config holds database configuration. An empty DataDir opens an in-memory database.
type Config struct {
	DataDir    string
	DBName     string
	Extensions []string
}

// Open opens (creating if needed) the DuckDB database described by cfg.
func Open(cfg Config) (*sql.DB, error) {
	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, eris.Wrap(err, "db: create duckdb directory")
		}
		dsn = filepath.Join(duckdbDir, cfg.DBName+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "db: open duckdb")
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "db: ping duckdb")
	}

	for _, ext := range cfg.Extensions {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			// Offline hosts cannot install; the store works without them.
			zap.L().Debug("duckdb extension unavailable", zap.String("extension", ext), zap.Error(err))
		}
	}

	return conn, nil
}

// Tables lists the tables in the main schema.
func Tables(ctx context.Context, conn *sql.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, eris.Wrap(err, "db: list tables")
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "db: scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
