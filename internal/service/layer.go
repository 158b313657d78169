package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/heatmap"
)

const (
	heatmapCeiling  = 3.0
	facilityCeiling = 8.0
)

// DefaultLayers is the built-in layer catalog.
func DefaultLayers() []LayerConfig {
	return []LayerConfig{
		{
			ID: "blind_spot", Name: "통합 위험도 히트맵", Category: backend.CategoryBlindSpot,
			Kind: KindHeatmap, Ceiling: heatmapCeiling, Opacity: 0.6, ZIndex: 5, Gradient: heatmap.Gradient,
			Legend: []LegendItem{{Label: "안전", Color: "#0000ff"}, {Label: "위험", Color: "#ff0000"}},
		},
		{
			ID: "refined_risk", Name: "위험도 히트맵(정밀)", Category: backend.CategoryRefinedRisk,
			Kind: KindHeatmap, Ceiling: heatmapCeiling, Opacity: 0.6, ZIndex: 6, Gradient: heatmap.Gradient,
			Legend: []LegendItem{{Label: "안전", Color: "#0000ff"}, {Label: "위험", Color: "#ff0000"}},
		},
		{
			ID: "cctv", Name: "CCTV", Category: backend.CategoryCCTV,
			Kind: KindPoints, Ceiling: facilityCeiling, Opacity: 0.9, ZIndex: 10, Fill: "#2ecc71", Radius: 4,
			Legend: []LegendItem{{Label: "CCTV", Color: "#2ecc71"}},
		},
		{
			ID: "police", Name: "경찰 시설", Category: backend.CategoryPolice,
			Kind: KindPoints, Ceiling: facilityCeiling, Opacity: 0.9, ZIndex: 11, Fill: "#3498db", Radius: 6,
			Legend: []LegendItem{{Label: "경찰서/지구대", Color: "#3498db"}},
		},
		{
			ID: "street_light", Name: "가로등", Category: backend.CategoryStreetLight,
			Kind: KindPoints, Ceiling: facilityCeiling, Opacity: 0.8, ZIndex: 9, Fill: "#f1c40f", Radius: 3,
			Legend: []LegendItem{{Label: "가로등", Color: "#f1c40f"}},
		},
	}
}

// LayerService is the read-only risk layer catalog.
type LayerService struct {
	dataDir string
	layers  map[string]LayerConfig
	mu      sync.RWMutex
}

// NewLayerService creates the catalog from DefaultLayers, overlaid with
// layers.json in dataDir when present.
func NewLayerService(dataDir string) *LayerService {
	s := &LayerService{
		dataDir: dataDir,
		layers:  make(map[string]LayerConfig),
	}
	for _, l := range DefaultLayers() {
		s.layers[l.ID] = l
	}
	s.loadFromDisk()
	return s
}

// List returns all layers ordered by z-index.
func (s *LayerService) List() []LayerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]LayerConfig, 0, len(s.layers))
	for _, v := range s.layers {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ZIndex != result[j].ZIndex {
			return result[i].ZIndex < result[j].ZIndex
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Get returns a layer by ID.
func (s *LayerService) Get(id string) (LayerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[id]
	return layer, ok
}

// ForCategory returns the layer rendering a category.
func (s *LayerService) ForCategory(cat backend.Category) (LayerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.layers {
		if l.Category == cat {
			return l, true
		}
	}
	return LayerConfig{}, false
}

// configFile returns the path to the layer override file.
func (s *LayerService) configFile() string {
	return filepath.Join(s.dataDir, "layers.json")
}

// loadFromDisk merges styling overrides from disk. Entries must name a known
// category; unknown ones are skipped.
func (s *LayerService) loadFromDisk() {
	if s.dataDir == "" {
		return
	}
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return // no overrides
	}

	var layers map[string]LayerConfig
	if err := json.Unmarshal(data, &layers); err != nil {
		zap.L().Warn("ignoring invalid layer overrides", zap.String("file", s.configFile()), zap.Error(err))
		return
	}

	for id, l := range layers {
		if _, err := backend.ParseCategory(string(l.Category)); err != nil {
			zap.L().Warn("ignoring layer override", zap.String("id", id), zap.Error(err))
			continue
		}
		if l.Kind != KindHeatmap && l.Kind != KindPoints {
			zap.L().Warn("ignoring layer override", zap.String("id", id),
				zap.Error(eris.Errorf("service: unknown layer kind %q", l.Kind)))
			continue
		}
		l.ID = id
		// one layer per category
		for existing, cur := range s.layers {
			if cur.Category == l.Category {
				delete(s.layers, existing)
			}
		}
		s.layers[id] = l
	}
}
