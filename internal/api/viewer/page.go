package viewer

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/service"
	"github.com/joeblew999/plat-riskmap/internal/templates"
)

// PageConfig holds the initial map view.
type PageConfig struct {
	Title   string
	Center  geo.Coordinate
	Zoom    float64
	TileURL string
}

// PageData is the map.html template input.
type PageData struct {
	PageConfig
	Layers     []service.LayerState
	LayersJSON string
	Signals    string
}

// Page serves the map page and issues the session cookie.
type Page struct {
	Config   PageConfig
	Cookies  Cookies
	Catalog  *service.LayerService
	Renderer *templates.Renderer
	// Links are written as Link headers, e.g. the API entry point.
	Links func() []string
	// TileURL, when set, replaces Config.TileURL per request.
	TileURL func() string
}

func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s, cookie := p.Cookies.Resolve(r.Header.Get("Cookie"))
	if cookie != nil {
		http.SetCookie(w, cookie)
	}

	data, err := p.data(s)
	if err != nil {
		zap.L().Error("viewer: page data", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	html, err := p.Renderer.Render("map.html", data)
	if err != nil {
		zap.L().Error("viewer: render page", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if p.Links != nil {
		for _, l := range p.Links() {
			w.Header().Add("Link", l)
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (p *Page) data(s *service.Session) (PageData, error) {
	catalog := p.Catalog.List()
	states := make([]service.LayerState, len(catalog))
	visible := make(map[string]bool, len(catalog))
	for i, l := range catalog {
		on := s.Visible(l.Category)
		states[i] = service.LayerState{Layer: l, Visible: on}
		visible[l.ID] = on
	}

	layersJSON, err := json.Marshal(catalog)
	if err != nil {
		return PageData{}, err
	}
	signals, err := json.Marshal(map[string]any{
		"query":      "",
		"importBusy": false,
		"layers":     visible,
	})
	if err != nil {
		return PageData{}, err
	}

	cfg := p.Config
	if p.TileURL != nil {
		cfg.TileURL = p.TileURL()
	}
	return PageData{
		PageConfig: cfg,
		Layers:     states,
		LayersJSON: string(layersJSON),
		Signals:    string(signals),
	}, nil
}
