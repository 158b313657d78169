package viewer

import (
	"context"
	"math"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/humastar"
	"github.com/joeblew999/plat-riskmap/internal/service"
	"github.com/joeblew999/plat-riskmap/internal/templates"
)

// Deps are the services the viewer drives.
type Deps struct {
	Catalog      *service.LayerService
	Layers       *service.LayerController
	Interactions *service.Interactions
	Importer     *service.Importer
}

// Handler serves the viewer endpoints.
type Handler struct {
	humastar.Handler
	deps Deps
	now  func() time.Time
}

func NewHandler(deps Deps, renderer *templates.Renderer) *Handler {
	return &Handler{Handler: humastar.Handler{Renderer: renderer}, deps: deps, now: time.Now}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags(Tag)
	huma.Get(api, "/ui/events", h.Events, tags)
	huma.Post(api, "/ui/click", h.Click, tags)
	huma.Post(api, "/ui/search", h.Search, tags)
	huma.Post(api, "/ui/view", h.View, tags)
	huma.Post(api, "/ui/layers/{id}/toggle", h.Toggle, tags)
	huma.Post(api, "/ui/popup/close", h.ClosePopup, tags)
	huma.Post(api, "/ui/admin/import", h.Import, tags)
}

// Click looks up the address at the clicked point. The outcome reaches the
// page over the event stream, so lookup failures are not HTTP errors.
func (h *Handler) Click(ctx context.Context, input *humastar.SignalsInput) (*struct{}, error) {
	s, err := mustSession(ctx)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	if !signals.Has("lon") || !signals.Has("lat") {
		return nil, huma.Error400BadRequest("lon and lat are required")
	}

	c := geo.Coordinate{signals.Float("lon"), signals.Float("lat")}
	if err := h.deps.Interactions.Click(ctx, s, c); err != nil {
		if eris.Is(err, geo.ErrInvalidCoordinate) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		zap.L().Debug("viewer: click", zap.String("session", s.ID), zap.Error(err))
	}
	return nil, nil
}

// Search runs the place search for the query signal.
func (h *Handler) Search(ctx context.Context, input *humastar.SignalsInput) (*struct{}, error) {
	s, err := mustSession(ctx)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}

	if err := h.deps.Interactions.Search(ctx, s, signals.String("query")); err != nil {
		zap.L().Debug("viewer: search", zap.String("session", s.ID), zap.Error(err))
	}
	return nil, nil
}

// View records a zoom change and pushes new heatmap parameters.
func (h *Handler) View(ctx context.Context, input *humastar.SignalsInput) (*struct{}, error) {
	s, err := mustSession(ctx)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}

	zoom := signals.Float("zoom")
	if !signals.Has("zoom") || math.IsNaN(zoom) || zoom < 0 || zoom > 30 {
		return nil, huma.Error400BadRequest("zoom must be between 0 and 30")
	}
	s.SetZoom(zoom)
	return nil, nil
}

type ToggleInput struct {
	ID      string `path:"id" doc:"Layer ID" example:"blind_spot"`
	RawBody []byte
}

// Toggle shows or hides a layer. The desired state comes from the bound
// checkbox signal layers.<id>, or a plain "on" signal.
func (h *Handler) Toggle(ctx context.Context, input *ToggleInput) (*struct{}, error) {
	s, err := mustSession(ctx)
	if err != nil {
		return nil, err
	}
	signals, err := humastar.MustParseSignals(input.RawBody)
	if err != nil {
		return nil, err
	}

	var on bool
	switch layers := signals.Sub("layers"); {
	case layers.Has(input.ID):
		on = layers.Bool(input.ID)
	case signals.Has("on"):
		on = signals.Bool("on")
	default:
		return nil, huma.Error400BadRequest("missing layer state")
	}

	if err := h.deps.Layers.Toggle(ctx, s, input.ID, on); err != nil {
		if eris.Is(err, service.ErrUnknownLayer) {
			return nil, huma.Error404NotFound("layer not found")
		}
		return nil, huma.Error500InternalServerError("toggle failed", err)
	}
	return nil, nil
}

// ClosePopup hides the popup and removes the marker.
func (h *Handler) ClosePopup(ctx context.Context, input *humastar.EmptyInput) (*struct{}, error) {
	s, err := mustSession(ctx)
	if err != nil {
		return nil, err
	}
	s.Close()
	return nil, nil
}

// Import triggers the backend re-import. The status is broadcast to every
// session, so only the cooldown refusal is reported here.
func (h *Handler) Import(ctx context.Context, input *humastar.EmptyInput) (*struct{}, error) {
	if _, err := mustSession(ctx); err != nil {
		return nil, err
	}
	if _, err := h.deps.Importer.Trigger(ctx); err != nil {
		if eris.Is(err, service.ErrCooldown) {
			return nil, huma.Error429TooManyRequests("import is cooling down")
		}
		zap.L().Debug("viewer: import", zap.Error(err))
	}
	return nil, nil
}
