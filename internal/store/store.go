// Package store caches the features fetched for each risk layer, keyed by
// viewer session and category.
package store

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/plat-riskmap/internal/backend"
)

// Feature property keys written by NewFeature.
const (
	PropWeight   = "weight"
	PropScore    = "score"
	PropType     = "type"
	PropCategory = "category"
)

// ErrUnknownDriver is returned by New for an unsupported driver name.
var ErrUnknownDriver = eris.New("unknown store driver")

// FeatureStore holds layer features per session and category. Features are
// returned in insertion order.
type FeatureStore interface {
	Add(session string, cat backend.Category, features []*geojson.Feature) error
	Features(session string, cat backend.Category) ([]*geojson.Feature, error)
	Len(session string, cat backend.Category) int
	Clear(session string, cat backend.Category) error
	ClearSession(session string) error
	ClearAll() error
	Close() error
}

// NewFeature builds a point feature carrying the normalized weight, the raw
// score, the record type and the category.
func NewFeature(p backend.RiskPoint, weight float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{p.Lon, p.Lat})
	f.Properties[PropWeight] = weight
	f.Properties[PropScore] = p.Weight
	f.Properties[PropCategory] = string(p.Category)
	if p.Type != "" {
		f.Properties[PropType] = p.Type
	}
	return f
}

// Collection wraps features into a FeatureCollection for the viewer.
func Collection(features []*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, features...)
	return fc
}
