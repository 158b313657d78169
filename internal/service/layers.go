package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/heatmap"
	"github.com/joeblew999/plat-riskmap/internal/metrics"
	"github.com/joeblew999/plat-riskmap/internal/store"
)

// ErrUnknownLayer is returned when a toggle names no catalog layer.
var ErrUnknownLayer = eris.New("unknown layer")

// RiskSource fetches the scored points of a category.
type RiskSource interface {
	RiskPoints(ctx context.Context, cat backend.Category) ([]backend.RiskPoint, error)
}

// LayerController shows and hides risk layers per session and fills each
// session's feature store on first use.
type LayerController struct {
	catalog  *LayerService
	store    store.FeatureStore
	source   RiskSource
	registry *Registry
	metrics  *metrics.Metrics

	group singleflight.Group
	wg    sync.WaitGroup

	// mu orders invalidation against cache writes; gen counts invalidations.
	mu  sync.Mutex
	gen atomic.Uint64
}

// NewLayerController wires the controller.
func NewLayerController(catalog *LayerService, fs store.FeatureStore, src RiskSource, reg *Registry, m *metrics.Metrics) *LayerController {
	if m == nil {
		m = metrics.Nop()
	}
	return &LayerController{catalog: catalog, store: fs, source: src, registry: reg, metrics: m}
}

// Toggle shows or hides a layer. Showing never waits for data: the layer is
// visible at once and an empty store is filled in the background, with the
// features pushed to the session when they arrive. Hiding keeps the cache.
func (c *LayerController) Toggle(ctx context.Context, s *Session, layerID string, on bool) error {
	layer, ok := c.catalog.Get(layerID)
	if !ok {
		return eris.Wrapf(ErrUnknownLayer, "service: toggle %q", layerID)
	}

	s.setVisible(layer, on)
	if !on {
		return nil
	}

	if c.store.Len(s.ID, layer.Category) > 0 {
		c.metrics.LayerCacheHits.WithLabelValues(string(layer.Category)).Inc()
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.load(context.WithoutCancel(ctx), s, layer)
	}()
	return nil
}

// Features returns the cached features of a layer for a session.
func (c *LayerController) Features(s *Session, layer LayerConfig) (*geojson.FeatureCollection, error) {
	fs, err := c.store.Features(s.ID, layer.Category)
	if err != nil {
		return nil, err
	}
	return store.Collection(fs), nil
}

// Invalidate drops every cached feature of every session. Loads still in
// flight are discarded when they finish.
func (c *LayerController) Invalidate() error {
	c.mu.Lock()
	c.gen.Add(1)
	err := c.store.ClearAll()
	c.mu.Unlock()
	if err != nil {
		return eris.Wrap(err, "service: invalidate layers")
	}
	if c.registry != nil {
		c.registry.Broadcast(Event{Kind: EventLayersCleared, Data: LayersCleared{Categories: backend.Categories}})
	}
	return nil
}

// Wait blocks until background loads have finished.
func (c *LayerController) Wait() {
	c.wg.Wait()
}

func (c *LayerController) load(ctx context.Context, s *Session, layer LayerConfig) {
	// loads started before and after an invalidation never share a call
	gen := c.gen.Load()
	key := fmt.Sprintf("%s/%s/%d", s.ID, layer.Category, gen)
	_, err, _ := c.group.Do(key, func() (any, error) {
		// a load that finished between the caller's check and here
		if c.store.Len(s.ID, layer.Category) > 0 {
			return nil, nil
		}
		return nil, c.fetch(ctx, s, layer, gen)
	})
	if err != nil {
		c.metrics.LayerFetches.WithLabelValues(string(layer.Category), "error").Inc()
		zap.L().Warn("layer load failed",
			zap.String("session", s.ID), zap.String("category", string(layer.Category)), zap.Error(err))
	}
}

func (c *LayerController) fetch(ctx context.Context, s *Session, layer LayerConfig, gen uint64) error {
	points, err := c.source.RiskPoints(ctx, layer.Category)
	if err != nil {
		return err
	}

	features := make([]*geojson.Feature, 0, len(points))
	for _, p := range points {
		features = append(features, store.NewFeature(p, heatmap.NormalizeWeight(p.Weight, layer.Ceiling)))
	}

	stored, err := c.commit(s.ID, layer.Category, features, gen)
	if err != nil {
		return eris.Wrap(err, "service: cache layer features")
	}
	if !stored {
		c.metrics.StaleResults.WithLabelValues("layer").Inc()
		zap.L().Debug("discarding layer data fetched before invalidation",
			zap.String("category", string(layer.Category)))
		return nil
	}

	c.metrics.LayerFetches.WithLabelValues(string(layer.Category), "ok").Inc()
	zap.L().Debug("layer loaded",
		zap.String("session", s.ID), zap.String("category", string(layer.Category)), zap.Int("features", len(features)))

	s.Bus.Publish(Event{Kind: EventFeatures, Data: FeatureBatch{Layer: layer, Features: store.Collection(features)}})
	return nil
}

// commit caches features unless an invalidation happened after gen was read.
func (c *LayerController) commit(session string, cat backend.Category, features []*geojson.Feature, gen uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen.Load() != gen {
		return false, nil
	}
	return true, c.store.Add(session, cat, features)
}
