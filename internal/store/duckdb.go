package store

import (
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/db"
)

// FeatureTable is the DuckDB table holding cached layer features.
const FeatureTable = "layer_features"

const createFeatureTable = `CREATE TABLE IF NOT EXISTS layer_features (
	seq      BIGINT,
	session  VARCHAR,
	category VARCHAR,
	lon      DOUBLE,
	lat      DOUBLE,
	weight   DOUBLE,
	score    DOUBLE,
	type     VARCHAR
)`

// DuckDB keeps features in a DuckDB table so operators can inspect them
// through the SQL query endpoint.
type DuckDB struct {
	conn *sql.DB
	seq  atomic.Int64
	mu   sync.Mutex
}

// OpenDuckDB opens the database described by cfg and prepares the feature table.
// Rows left by a previous run are discarded.
func OpenDuckDB(cfg db.Config) (*DuckDB, error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewDuckDB(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewDuckDB prepares the feature table on an existing connection.
func NewDuckDB(conn *sql.DB) (*DuckDB, error) {
	if _, err := conn.Exec(createFeatureTable); err != nil {
		return nil, eris.Wrap(err, "store: create feature table")
	}
	if _, err := conn.Exec("DELETE FROM " + FeatureTable); err != nil {
		return nil, eris.Wrap(err, "store: reset feature table")
	}
	return &DuckDB{conn: conn}, nil
}

// DB exposes the underlying connection for the query endpoints.
func (d *DuckDB) DB() *sql.DB { return d.conn }

// Add appends features for a session's category.
func (d *DuckDB) Add(session string, cat backend.Category, features []*geojson.Feature) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.conn.Begin()
	if err != nil {
		return eris.Wrap(err, "store: begin insert")
	}
	stmt, err := tx.Prepare(`INSERT INTO layer_features (seq, session, category, lon, lat, weight, score, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return eris.Wrap(err, "store: prepare insert")
	}
	defer stmt.Close()

	for _, f := range features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			tx.Rollback()
			return eris.Errorf("store: %s feature is %T, want point", cat, f.Geometry)
		}
		_, err := stmt.Exec(
			d.seq.Add(1), session, string(cat), pt.Lon(), pt.Lat(),
			f.Properties.MustFloat64(PropWeight, 0),
			f.Properties.MustFloat64(PropScore, 0),
			f.Properties.MustString(PropType, ""),
		)
		if err != nil {
			tx.Rollback()
			return eris.Wrap(err, "store: insert feature")
		}
	}
	return eris.Wrap(tx.Commit(), "store: commit features")
}

// Features returns the cached features of a session's category.
func (d *DuckDB) Features(session string, cat backend.Category) ([]*geojson.Feature, error) {
	rows, err := d.conn.Query(`SELECT lon, lat, weight, score, type FROM layer_features
		WHERE session = ? AND category = ? ORDER BY seq`, session, string(cat))
	if err != nil {
		return nil, eris.Wrap(err, "store: query features")
	}
	defer rows.Close()

	var out []*geojson.Feature
	for rows.Next() {
		var (
			p      backend.RiskPoint
			weight float64
			typ    sql.NullString
		)
		if err := rows.Scan(&p.Lon, &p.Lat, &weight, &p.Weight, &typ); err != nil {
			return nil, eris.Wrap(err, "store: scan feature")
		}
		p.Type = typ.String
		p.Category = cat
		out = append(out, NewFeature(p, weight))
	}
	return out, eris.Wrap(rows.Err(), "store: iterate features")
}

// Len counts the cached features of a session's category. A failed count
// is logged and reads as empty.
func (d *DuckDB) Len(session string, cat backend.Category) int {
	var n int
	err := d.conn.QueryRow(`SELECT count(*) FROM layer_features WHERE session = ? AND category = ?`,
		session, string(cat)).Scan(&n)
	if err != nil {
		zap.L().Warn("store: count features failed",
			zap.String("session", session), zap.String("category", string(cat)), zap.Error(err))
		return 0
	}
	return n
}

// Clear drops one category of a session.
func (d *DuckDB) Clear(session string, cat backend.Category) error {
	_, err := d.conn.Exec(`DELETE FROM layer_features WHERE session = ? AND category = ?`, session, string(cat))
	return eris.Wrap(err, "store: clear category")
}

// ClearSession drops every category of a session.
func (d *DuckDB) ClearSession(session string) error {
	_, err := d.conn.Exec(`DELETE FROM layer_features WHERE session = ?`, session)
	return eris.Wrap(err, "store: clear session")
}

// ClearAll empties the feature table.
func (d *DuckDB) ClearAll() error {
	_, err := d.conn.Exec(`DELETE FROM layer_features`)
	return eris.Wrap(err, "store: clear all")
}

// Close closes the database connection.
func (d *DuckDB) Close() error {
	return d.conn.Close()
}
