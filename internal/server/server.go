// Package server wires configuration, services and HTTP routes.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/api"
	"github.com/joeblew999/plat-riskmap/internal/api/viewer"
	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/config"
	"github.com/joeblew999/plat-riskmap/internal/db"
	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/humastar"
	"github.com/joeblew999/plat-riskmap/internal/metrics"
	"github.com/joeblew999/plat-riskmap/internal/service"
	"github.com/joeblew999/plat-riskmap/internal/store"
	"github.com/joeblew999/plat-riskmap/internal/templates"
	"github.com/joeblew999/plat-riskmap/web"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverDuckDB = "duckdb"
)

// sweepInterval is how often idle sessions are evicted.
const sweepInterval = time.Minute

// Options are the process-level settings that come from CLI flags.
type Options struct {
	Host string
	Port int
	// WebDir serves templates and static files from disk instead of the
	// embedded copies.
	WebDir string
}

// Server is the riskmap HTTP server.
type Server struct {
	cfg      *config.Config
	opts     Options
	router   chi.Router
	humaAPI  huma.API
	links    *humastar.Links
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	backend  *backend.Client
	store    store.FeatureStore
	db       *sql.DB
	sessions *service.Registry
	layers   *service.LayerController
	page     *viewer.Page

	// tileURL is read by the map page and GET /api/v1/config.
	tileURL atomic.Pointer[string]
}

// New creates a server. It opens the feature store but makes no backend calls.
func New(cfg *config.Config, opts Options) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	fstore, conn, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	webFS, err := webFiles(opts.WebDir)
	if err != nil {
		return nil, err
	}
	renderer, err := templates.New(webFS)
	if err != nil {
		return nil, err
	}
	static, err := fs.Sub(webFS, "static")
	if err != nil {
		return nil, eris.Wrap(err, "server: static files")
	}

	client := backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, m)
	catalog := service.NewLayerService(cfg.Store.DataDir)
	sessions := service.NewRegistry(service.RegistryOptions{
		IdleTTL:     cfg.Session.IdleTTL,
		InitialZoom: cfg.Map.Zoom,
		Metrics:     m,
		OnEvict: func(id string) {
			if err := fstore.ClearSession(id); err != nil {
				zap.L().Warn("server: drop session features", zap.String("session", id), zap.Error(err))
			}
		},
	})
	layers := service.NewLayerController(catalog, fstore, client, sessions, m)
	importer := service.NewImporter(client, layers, sessions, cfg.Import.Cooldown, m)
	interactions := service.NewInteractions(client, cfg.Map.SearchZoom,
		time.Duration(cfg.Map.AnimationMS)*time.Millisecond)

	s := &Server{
		cfg:      cfg,
		opts:     opts,
		metrics:  m,
		registry: reg,
		backend:  client,
		store:    fstore,
		db:       conn,
		sessions: sessions,
		layers:   layers,
		links:    humastar.NewLinks(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Datastar-Request"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	s.router = r

	humaConfig := huma.DefaultConfig("riskmap API", api.Version)
	humaConfig.Info.Description = "Risk map viewer: reverse geocoding, place search and risk layers for the map page."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%d", displayHost(opts.Host), opts.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, s.links.Transformer())
	s.humaAPI = humachi.New(r, humaConfig)

	cookies := viewer.Cookies{Registry: sessions, Name: cfg.Session.CookieName}
	s.humaAPI.UseMiddleware(viewer.Sessions(cookies))

	api.RegisterRoutes(s.humaAPI, &api.Services{
		Catalog:  catalog,
		Importer: importer,
		Sessions: sessions,
		Backend:  client,
		Map: api.MapInfo{
			CenterLon:  cfg.Map.CenterLon,
			CenterLat:  cfg.Map.CenterLat,
			Zoom:       cfg.Map.Zoom,
			SearchZoom: cfg.Map.SearchZoom,
		},
		TileURL: s.TileURL,
	})
	api.NewInfoHandler(cfg.Store.Driver, conn != nil, sessions).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(conn).RegisterRoutes(s.humaAPI)
	viewer.NewHandler(viewer.Deps{
		Catalog:      catalog,
		Layers:       layers,
		Interactions: interactions,
		Importer:     importer,
	}, renderer).RegisterRoutes(s.humaAPI)

	s.links.Build(s.humaAPI, humastar.LinkOptions{
		Entry:    "/health",
		Search:   "/api/v1/query",
		SkipTags: []string{viewer.Tag},
	})

	s.page = &viewer.Page{
		Config: viewer.PageConfig{
			Title:  "위험 지도",
			Center: geo.Coordinate{cfg.Map.CenterLon, cfg.Map.CenterLat},
			Zoom:   cfg.Map.Zoom,
		},
		Cookies:  cookies,
		Catalog:  catalog,
		Renderer: renderer,
		Links:    s.links.Root,
		TileURL:  s.TileURL,
	}

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(static)))
	var page http.Handler = s.page
	if opts.WebDir != "" {
		page = reloading(renderer, webFS, page)
	}
	r.Method(http.MethodGet, "/", page)

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// TileURL returns the base map tile URL template with the key filled in.
func (s *Server) TileURL() string {
	if u := s.tileURL.Load(); u != nil {
		return *u
	}
	return s.cfg.Map.TileURLWithKey()
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *service.Registry {
	return s.sessions
}

// Start runs background work until ctx is done: the idle session sweeper
// and, when no tile key is configured, a one-off fetch of the backend's
// client config.
func (s *Server) Start(ctx context.Context) {
	if s.cfg.Map.VWorldKey == "" {
		s.resolveTileKey(ctx)
	}
	go s.sessions.Run(ctx, sweepInterval)
}

func (s *Server) resolveTileKey(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cc, err := s.backend.ClientConfig(ctx)
	if err != nil {
		zap.L().Warn("server: backend client config unavailable, base map may not load", zap.Error(err))
		return
	}
	mc := s.cfg.Map
	mc.VWorldKey = cc.VWorldKey
	u := mc.TileURLWithKey()
	s.tileURL.Store(&u)
	zap.L().Info("server: tile key loaded from backend")
}

// Close waits for background layer loads and closes the feature store.
func (s *Server) Close() error {
	s.layers.Wait()
	return s.store.Close()
}

func openStore(cfg config.StoreConfig) (store.FeatureStore, *sql.DB, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return store.NewMemory(), nil, nil
	case DriverDuckDB:
		d, err := store.OpenDuckDB(db.Config{DataDir: cfg.DataDir, DBName: "riskmap"})
		if err != nil {
			return nil, nil, err
		}
		return d, d.DB(), nil
	}
	return nil, nil, eris.Wrapf(store.ErrUnknownDriver, "server: store driver %q", cfg.Driver)
}

func webFiles(dir string) (fs.FS, error) {
	if dir == "" {
		return web.FS, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, eris.Wrapf(err, "server: web dir %s", dir)
	}
	return os.DirFS(dir), nil
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}

// reloading re-parses the templates before every page load, so edits under
// --web-dir show without a restart.
func reloading(r *templates.Renderer, fsys fs.FS, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := r.Reload(fsys); err != nil {
			zap.L().Warn("server: reload templates", zap.Error(err))
		}
		next.ServeHTTP(w, req)
	})
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
