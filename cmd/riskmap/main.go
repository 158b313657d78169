package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/config"
	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/metrics"
	"github.com/joeblew999/plat-riskmap/internal/ranking"
	"github.com/joeblew999/plat-riskmap/internal/server"
	"github.com/joeblew999/plat-riskmap/internal/service"
)

// Options defines all CLI flags and env vars for the riskmap server.
// Flags: --host, --port, --config, --web-dir
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_CONFIG, SERVICE_WEB_DIR
type Options struct {
	Host   string `doc:"Host to bind to" default:"0.0.0.0"`
	Port   int    `doc:"Port to listen on" short:"p" default:"8086"`
	Config string `doc:"Path to riskmap.yaml (optional)" short:"c"`
	WebDir string `doc:"Serve templates and static files from this directory instead of the embedded copies"`
}

func load(opts *Options) *config.Config {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newServer(cfg *config.Config, opts *Options) *server.Server {
	srv, err := server.New(cfg, server.Options{Host: opts.Host, Port: opts.Port, WebDir: opts.WebDir})
	if err != nil {
		zap.L().Fatal("create server", zap.Error(err))
	}
	return srv
}

func newClient(cfg *config.Config) *backend.Client {
	return backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, metrics.Nop())
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			srv     *server.Server
			httpSrv *http.Server
			cancel  context.CancelFunc
		)

		hooks.OnStart(func() {
			cfg := load(opts)
			srv = newServer(cfg, opts)
			defer zap.L().Sync()

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			srv.Start(ctx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("riskmap server starting...\n")
			fmt.Printf("  Map:     %s/\n", baseURL)
			fmt.Printf("  Backend: %s\n", cfg.Backend.BaseURL)
			fmt.Printf("  Store:   %s\n", cfg.Store.Driver)
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zap.L().Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			if httpSrv == nil {
				return
			}
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := httpSrv.Shutdown(ctx); err != nil {
				zap.L().Warn("shutdown", zap.Error(err))
			}
			cancel()
			if err := srv.Close(); err != nil {
				zap.L().Warn("close server", zap.Error(err))
			}
		})
	})

	cli.Root().Use = "riskmap"
	cli.Root().Short = "Risk map viewer for blind spots, CCTV, police and street lights"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(load(opts), opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// search subcommand: one-shot place search with the viewer's ranking
	cli.Root().AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Search a place and print the candidate the map would show",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			client := newClient(load(opts))
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := client.Search(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
				os.Exit(1)
			}
			best, err := ranking.Best(args[0], res.Items)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Ranking failed: %v\n", err)
				os.Exit(1)
			}
			at, err := geo.ParsePoint(best.Point.X, best.Point.Y)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Bad point: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("%s\n%s\n좌표: %s\n", ranking.StripMarkup(best.Title), best.Address.Display(), geo.Format(at))
		}),
	})

	// address subcommand: one-shot reverse geocode
	cli.Root().AddCommand(&cobra.Command{
		Use:   "address <lon> <lat>",
		Short: "Reverse geocode a coordinate",
		Args:  cobra.ExactArgs(2),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			lon, errLon := strconv.ParseFloat(args[0], 64)
			lat, errLat := strconv.ParseFloat(args[1], 64)
			if errLon != nil || errLat != nil {
				fmt.Fprintln(os.Stderr, "lon and lat must be numbers")
				os.Exit(1)
			}
			client := newClient(load(opts))
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addrs, err := client.ReverseGeocode(ctx, geo.Coordinate{lon, lat})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Lookup failed: %v\n", err)
				os.Exit(1)
			}
			for _, a := range addrs {
				label := service.LabelRoad
				if a.IsParcel() {
					label = service.LabelParcel
				}
				fmt.Printf("[%s] %s\n", label, a.Text)
			}
		}),
	})

	cli.Run()
}
