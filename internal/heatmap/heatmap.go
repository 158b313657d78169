// Package heatmap holds the zoom-dependent rendering parameters shared by all
// heatmap layers and the weight normalization applied to risk scores.
package heatmap

import "math"

const (
	minRadius      = 25.0
	radiusPerZoom  = 8.0
	zoomOffset     = 10.0
	blurFactor     = 1.5
	minWeight      = 0.1
	maxWeight      = 1.0
	defaultCeiling = 1.0
)

// Gradient runs from safe (blue) to risky (red).
var Gradient = []string{"#0000ff", "#00ffff", "#00ff00", "#ffff00", "#ff0000"}

// Params are the radius and blur, in pixels, for every active heatmap layer.
type Params struct {
	Radius float64 `json:"radius" doc:"Heatmap point radius in pixels" example:"40"`
	Blur   float64 `json:"blur" doc:"Heatmap blur in pixels" example:"60"`
}

// ParamsForZoom grows the radius linearly with zoom, never below 25px.
// Zoom 13 gives 25, zoom 15 gives 40, zoom 20 gives 80.
func ParamsForZoom(zoom float64) Params {
	radius := math.Max(minRadius, (zoom-zoomOffset)*radiusPerZoom)
	return Params{Radius: radius, Blur: radius * blurFactor}
}

// NormalizeWeight maps a raw score onto [0.1, 1.0] relative to ceiling.
func NormalizeWeight(score, ceiling float64) float64 {
	if ceiling <= 0 || math.IsNaN(ceiling) {
		ceiling = defaultCeiling
	}
	if math.IsNaN(score) {
		return minWeight
	}
	return math.Max(minWeight, math.Min(score/ceiling, maxWeight))
}
