// Package api defines the Huma REST routes and handlers.
package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/plat-riskmap/internal/heatmap"
	"github.com/joeblew999/plat-riskmap/internal/humastar"
	"github.com/joeblew999/plat-riskmap/internal/ranking"
	"github.com/joeblew999/plat-riskmap/internal/service"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Pinger checks the backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MapInfo is the initial map view handed to clients.
type MapInfo struct {
	CenterLon  float64 `json:"centerLon" doc:"Initial center longitude" example:"127.1388"`
	CenterLat  float64 `json:"centerLat" doc:"Initial center latitude" example:"37.4449"`
	Zoom       float64 `json:"zoom" doc:"Initial zoom" example:"14"`
	SearchZoom float64 `json:"searchZoom" doc:"Zoom a search result animates to" example:"17"`
	TileURL    string  `json:"tileUrl" doc:"Base map XYZ tile URL template"`
}

// Services holds the service dependencies for API handlers.
type Services struct {
	Catalog  *service.LayerService
	Importer *service.Importer
	Sessions *service.Registry
	Backend  Pinger
	Map      MapInfo

	// TileURL, when set, overrides Map.TileURL on every read so a key
	// resolved after startup reaches clients.
	TileURL func() string
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"blind_spot"`
}

// LayerBody is a layer with its hypermedia actions.
type LayerBody struct {
	service.LayerConfig
}

var layerActions = []humastar.ActionDef{
	{Rel: "toggle", Pattern: "/ui/layers/%s/toggle", Method: "POST", Title: "Show or hide in the viewer"},
}

// Actions implements humastar.Actor.
func (b LayerBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, layerActions)
}

type LayerOutput struct {
	Body LayerBody
}

type LayersOutput struct {
	Body []service.LayerConfig
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
	Backend string `json:"backend" enum:"ok,unreachable,unknown" doc:"Risk backend reachability"`
}

type ZoomInput struct {
	Zoom float64 `query:"zoom" minimum:"0" maximum:"30" default:"14" doc:"Map zoom level"`
}

type HeatmapBody struct {
	Zoom float64 `json:"zoom" doc:"Zoom the parameters apply to"`
	heatmap.Params
	Gradient []string `json:"gradient" doc:"Color ramp, safe to risky"`
}

type RankInput struct {
	Body struct {
		Query      string              `json:"query" minLength:"1" doc:"Free-text search query" example:"서울시청"`
		Candidates []ranking.Candidate `json:"candidates" doc:"Backend search matches in their original order"`
	}
}

type RankBody struct {
	Index     int               `json:"index" doc:"Index of the chosen candidate"`
	Candidate ranking.Candidate `json:"candidate" doc:"The chosen candidate"`
	Title     string            `json:"title" doc:"Chosen title without markup"`
	Scores    []int             `json:"scores" doc:"Score of every candidate"`
}

type ImportOutput struct {
	Status int
	Body   service.ImportStatus
}

// APIHandler holds the REST handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/heatmap", h.GetHeatmap, huma.OperationTags("layers"))
}

func (h *APIHandler) RegisterMap(api huma.API) {
	huma.Get(api, "/api/v1/config", h.GetConfig, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/rank", h.Rank, huma.OperationTags("map"))
}

func (h *APIHandler) RegisterAdmin(api huma.API) {
	huma.Post(api, "/api/v1/import", h.Import, huma.OperationTags("admin"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	body := HealthBody{Status: "ok", Version: Version, Backend: "unknown"}
	if h.svc.Backend != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		body.Backend = "ok"
		if err := h.svc.Backend.Ping(pctx); err != nil {
			body.Backend = "unreachable"
		}
	}
	return &struct{ Body HealthBody }{Body: body}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	return &LayersOutput{Body: h.svc.Catalog.List()}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	layer, ok := h.svc.Catalog.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: LayerBody{layer}}, nil
}

func (h *APIHandler) GetHeatmap(ctx context.Context, input *ZoomInput) (*struct{ Body HeatmapBody }, error) {
	return &struct{ Body HeatmapBody }{Body: HeatmapBody{
		Zoom:     input.Zoom,
		Params:   heatmap.ParamsForZoom(input.Zoom),
		Gradient: heatmap.Gradient,
	}}, nil
}

func (h *APIHandler) GetConfig(ctx context.Context, input *struct{}) (*struct{ Body MapInfo }, error) {
	info := h.svc.Map
	if h.svc.TileURL != nil {
		info.TileURL = h.svc.TileURL()
	}
	return &struct{ Body MapInfo }{Body: info}, nil
}

// Rank runs the search ranking over caller-supplied candidates without
// contacting the backend.
func (h *APIHandler) Rank(ctx context.Context, input *RankInput) (*struct{ Body RankBody }, error) {
	idx, err := ranking.BestIndex(input.Body.Query, candidateTitles(input.Body.Candidates))
	switch {
	case eris.Is(err, ranking.ErrEmptyQuery):
		return nil, huma.Error422UnprocessableEntity("query is empty")
	case eris.Is(err, ranking.ErrNoCandidates):
		return nil, huma.Error422UnprocessableEntity("no candidates")
	case err != nil:
		return nil, huma.Error500InternalServerError("rank failed", err)
	}

	clean := ranking.Normalize(input.Body.Query)
	scores := make([]int, len(input.Body.Candidates))
	for i, c := range input.Body.Candidates {
		scores[i] = ranking.Score(clean, c.Title)
	}
	best := input.Body.Candidates[idx]
	return &struct{ Body RankBody }{Body: RankBody{
		Index:     idx,
		Candidate: best,
		Title:     ranking.StripMarkup(best.Title),
		Scores:    scores,
	}}, nil
}

// Import triggers the backend re-import. A refusal during the cooldown
// answers 429 with the deadline in the body.
func (h *APIHandler) Import(ctx context.Context, input *struct{}) (*ImportOutput, error) {
	st, err := h.svc.Importer.Trigger(ctx)
	switch {
	case eris.Is(err, service.ErrCooldown):
		return &ImportOutput{Status: 429, Body: st}, nil
	case err != nil:
		return &ImportOutput{Status: 502, Body: st}, nil
	}
	return &ImportOutput{Status: 202, Body: st}, nil
}

func candidateTitles(cs []ranking.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Title
	}
	return out
}
