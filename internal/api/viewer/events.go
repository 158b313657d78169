package viewer

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/heatmap"
	"github.com/joeblew999/plat-riskmap/internal/humastar"
	"github.com/joeblew999/plat-riskmap/internal/service"
)

// DOM custom events consumed by static/mapview.js.
const (
	evMarker        = "riskmap:marker"
	evPopup         = "riskmap:popup"
	evView          = "riskmap:view"
	evHeatmap       = "riskmap:heatmap"
	evLayer         = "riskmap:layer"
	evFeatures      = "riskmap:features"
	evLayersCleared = "riskmap:layers-cleared"
	evAlert         = "riskmap:alert"
	evImport        = "riskmap:import"
)

const (
	popupSelector  = "#popup-content"
	importSelector = "#import-status"
)

type pointDetail struct {
	Visible   bool    `json:"visible"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	AfterView bool    `json:"afterView,omitempty"`
}

func point(visible bool, c geo.Coordinate) pointDetail {
	return pointDetail{Visible: visible, Lon: c.Lon(), Lat: c.Lat()}
}

// Events streams the session's state changes. A connecting page first gets
// the current state, so a reload restores marker, popup and layers.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	s, err := mustSession(ctx)
	if err != nil {
		return nil, err
	}

	return h.Stream(func(sse humastar.SSE) {
		ch := s.Bus.Subscribe()
		defer s.Bus.Unsubscribe(ch)

		if err := h.sendSnapshot(sse, s); err != nil {
			zap.L().Debug("viewer: snapshot", zap.String("session", s.ID), zap.Error(err))
			return
		}

		var cooldown <-chan time.Time
		if wait := h.deps.Importer.CooldownUntil().Sub(h.now()); wait > 0 {
			cooldown = time.After(wait)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-cooldown:
				cooldown = nil
				if err := sse.Signals(map[string]any{"importBusy": false}); err != nil {
					return
				}
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if st, isImport := ev.Data.(service.ImportStatus); isImport {
					if wait := st.CooldownUntil.Sub(h.now()); wait > 0 {
						cooldown = time.After(wait)
					}
				}
				if err := h.emit(sse, ev); err != nil {
					zap.L().Debug("viewer: stream closed", zap.String("session", s.ID), zap.Error(err))
					return
				}
			}
		}
	}), nil
}

func (h *Handler) sendSnapshot(sse humastar.SSE, s *service.Session) error {
	snap := s.Snapshot()

	visible := make(map[string]any)
	for _, cat := range snap.Visible {
		if l, ok := h.deps.Catalog.ForCategory(cat); ok {
			visible[l.ID] = true
		}
	}
	if err := sse.Signals(map[string]any{
		"layers":     visible,
		"importBusy": h.deps.Importer.CooldownUntil().After(h.now()),
	}); err != nil {
		return err
	}

	if err := sse.Event(evHeatmap, snap.Heatmap); err != nil {
		return err
	}

	for _, cat := range snap.Visible {
		l, ok := h.deps.Catalog.ForCategory(cat)
		if !ok {
			continue
		}
		if err := sse.Event(evLayer, layerDetail{ID: l.ID, Visible: true}); err != nil {
			return err
		}
		fc, err := h.deps.Layers.Features(s, l)
		if err != nil {
			zap.L().Warn("viewer: cached features", zap.String("layer", l.ID), zap.Error(err))
			continue
		}
		if len(fc.Features) > 0 {
			if err := sse.Event(evFeatures, featuresDetail{ID: l.ID, Features: fc}); err != nil {
				return err
			}
		}
	}

	marker := service.MarkerState{}
	if snap.Marker != nil {
		marker = service.MarkerState{Visible: true, At: *snap.Marker}
	}
	if err := h.emit(sse, service.Event{Kind: service.EventMarker, Data: marker}); err != nil {
		return err
	}

	popup := service.PopupState{}
	if snap.Popup != nil {
		popup = service.PopupState{Visible: true, Popup: *snap.Popup, Anchor: snap.Popup.Coord}
		if snap.Marker != nil {
			popup.Anchor = *snap.Marker
		}
	}
	return h.emit(sse, service.Event{Kind: service.EventPopup, Data: popup})
}

type layerDetail struct {
	ID      string `json:"id"`
	Visible bool   `json:"visible"`
}

type featuresDetail struct {
	ID       string `json:"id"`
	Features any    `json:"features"`
}

type viewDetail struct {
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
	Zoom       float64 `json:"zoom"`
	DurationMS int64   `json:"durationMs"`
}

// emit renders one bus event as Datastar patches and DOM events.
func (h *Handler) emit(sse humastar.SSE, ev service.Event) error {
	switch d := ev.Data.(type) {
	case service.MarkerState:
		return sse.Event(evMarker, point(d.Visible, d.At))

	case service.PopupState:
		if d.Visible {
			if err := sse.Patch(h.Render("popup", d.Popup), popupSelector); err != nil {
				return err
			}
		}
		detail := point(d.Visible, d.Anchor)
		detail.AfterView = d.AfterView
		return sse.Event(evPopup, detail)

	case service.View:
		return sse.Event(evView, viewDetail{
			Lon:        d.Center.Lon(),
			Lat:        d.Center.Lat(),
			Zoom:       d.Zoom,
			DurationMS: d.Duration.Milliseconds(),
		})

	case heatmap.Params:
		return sse.Event(evHeatmap, d)

	case service.LayerState:
		if err := sse.Signals(map[string]any{"layers": map[string]any{d.Layer.ID: d.Visible}}); err != nil {
			return err
		}
		return sse.Event(evLayer, layerDetail{ID: d.Layer.ID, Visible: d.Visible})

	case service.FeatureBatch:
		return sse.Event(evFeatures, featuresDetail{ID: d.Layer.ID, Features: d.Features})

	case service.LayersCleared:
		return sse.Event(evLayersCleared, map[string]any{"ids": h.layerIDs(d.Categories)})

	case service.Alert:
		return sse.Event(evAlert, map[string]string{"message": d.Message})

	case service.ImportStatus:
		if err := sse.Signals(map[string]any{"importBusy": d.CooldownUntil.After(h.now())}); err != nil {
			return err
		}
		if err := sse.Patch(h.Render("import-status", d), importSelector); err != nil {
			return err
		}
		return sse.Event(evImport, d)
	}

	zap.L().Warn("viewer: unhandled event", zap.String("kind", string(ev.Kind)))
	return nil
}

func (h *Handler) layerIDs(cats []backend.Category) []string {
	ids := make([]string, 0, len(cats))
	for _, cat := range cats {
		if l, ok := h.deps.Catalog.ForCategory(cat); ok {
			ids = append(ids, l.ID)
		}
	}
	return ids
}
