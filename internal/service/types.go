// Package service holds viewer session state and the controllers that drive
// it: the marker and popup lifecycle, risk layer toggles and the admin import.
package service

import (
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/geo"
)

// LayerKind selects how a risk layer is rendered.
type LayerKind string

const (
	KindHeatmap LayerKind = "heatmap"
	KindPoints  LayerKind = "points"
)

// LayerConfig describes one toggleable risk layer.
// Huma reads the tags for OpenAPI docs and validation.
type LayerConfig struct {
	ID       string           `json:"id" doc:"Unique layer identifier" example:"blind_spot"`
	Name     string           `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"통합 위험도 히트맵"`
	Category backend.Category `json:"category" enum:"CCTV,POLICE,STREET_LIGHT,BLIND_SPOT,REFINED_RISK" doc:"Backend risk category" example:"BLIND_SPOT"`
	Kind     LayerKind        `json:"kind" enum:"heatmap,points" doc:"Rendering mode" example:"heatmap"`
	Ceiling  float64          `json:"ceiling" minimum:"0" doc:"Score that maps to full weight" example:"3"`
	Opacity  float64          `json:"opacity,omitempty" minimum:"0" maximum:"1" default:"0.6" doc:"Layer opacity (0-1)" example:"0.6"`
	ZIndex   int              `json:"zIndex" doc:"Stacking order above the base map" example:"5"`
	Gradient []string         `json:"gradient,omitempty" doc:"Heatmap color ramp, safe to risky"`
	Fill     string           `json:"fill,omitempty" doc:"Point fill color (CSS)" example:"#3388ff"`
	Radius   float64          `json:"radius,omitempty" doc:"Point radius in pixels" example:"5"`
	Legend   []LegendItem     `json:"legend,omitempty" doc:"Legend entries for this layer"`
}

// LegendItem defines a legend entry.
type LegendItem struct {
	Label string `json:"label" doc:"Legend label"`
	Color string `json:"color" doc:"Legend color (CSS)"`
}

// Phase is the marker/popup lifecycle state of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseResolved
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseResolved:
		return "resolved"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// PopupKind selects the popup fragment to render.
type PopupKind string

const (
	PopupLoading  PopupKind = "loading"
	PopupAddress  PopupKind = "address"
	PopupNotFound PopupKind = "notfound"
	PopupError    PopupKind = "error"
	PopupSearch   PopupKind = "search"
)

// Popup is the content of the info popup.
type Popup struct {
	Kind    PopupKind
	Label   string
	Title   string
	Text    string
	Message string
	Coord   geo.Coordinate
}

// Coords formats the popup coordinate line.
func (p Popup) Coords() string {
	return geo.Format(p.Coord)
}

// MarkerState is published when the marker moves or is cleared.
type MarkerState struct {
	Visible bool
	At      geo.Coordinate
}

// PopupState is published when the popup opens, changes content or closes.
// AfterView asks the viewer to open it once the pending view animation ends.
type PopupState struct {
	Visible   bool
	Anchor    geo.Coordinate
	Popup     Popup
	AfterView bool
}

// View is an animated move of the map view.
type View struct {
	Center   geo.Coordinate
	Zoom     float64
	Duration time.Duration
}

// LayerState is a layer's visibility in one session.
type LayerState struct {
	Layer   LayerConfig
	Visible bool
}

// FeatureBatch carries features loaded for a layer.
type FeatureBatch struct {
	Layer    LayerConfig
	Features *geojson.FeatureCollection
}

// LayersCleared tells the viewer to drop every feature it holds for the categories.
type LayersCleared struct {
	Categories []backend.Category
}

// Alert is a modal message for the user.
type Alert struct {
	Message string
}

// ImportStatus reports the outcome of an admin import trigger.
type ImportStatus struct {
	Accepted      bool      `json:"accepted" doc:"Whether the backend accepted the import"`
	Message       string    `json:"message,omitempty" doc:"Failure detail"`
	CooldownUntil time.Time `json:"cooldownUntil" doc:"Trigger stays disabled until this time"`
}

// Outcome is what a finished lookup applies to the session.
type Outcome struct {
	// Popup replaces the popup content; nil hides it.
	Popup *Popup
	// Marker moves marker and popup anchor; nil keeps them.
	Marker *geo.Coordinate
	View   *View
	Alert  string
}
