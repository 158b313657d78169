package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-riskmap/internal/service"
)

type InfoHandler struct {
	storeDriver string
	dbOK        bool
	sessions    *service.Registry
}

func NewInfoHandler(storeDriver string, dbOK bool, sessions *service.Registry) *InfoHandler {
	return &InfoHandler{storeDriver: storeDriver, dbOK: dbOK, sessions: sessions}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	Store    string   `json:"store" enum:"memory,duckdb" doc:"Layer feature store driver"`
	DB       bool     `json:"db" doc:"Whether the DuckDB query endpoints are available"`
	Sessions int      `json:"sessions" doc:"Live viewer sessions"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"reverse-geocode", "search", "risk-layers", "heatmap", "import"}
	if h.dbOK {
		features = append(features, "duckdb")
	}

	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions.Len()
	}

	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "riskmap",
		Version:  Version,
		Store:    h.storeDriver,
		DB:       h.dbOK,
		Sessions: sessions,
		Features: features,
	}}, nil
}
