// Package config loads riskmap configuration from defaults, an optional YAML
// file and RISKMAP_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`
	Map     MapConfig     `yaml:"map" mapstructure:"map"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Import  ImportConfig  `yaml:"import" mapstructure:"import"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// BackendConfig points at the risk scoring / geocoding API.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MapConfig holds the initial view and base tile settings.
type MapConfig struct {
	CenterLon   float64 `yaml:"center_lon" mapstructure:"center_lon"`
	CenterLat   float64 `yaml:"center_lat" mapstructure:"center_lat"`
	Zoom        float64 `yaml:"zoom" mapstructure:"zoom"`
	SearchZoom  float64 `yaml:"search_zoom" mapstructure:"search_zoom"`
	TileURL     string  `yaml:"tile_url" mapstructure:"tile_url"`
	VWorldKey   string  `yaml:"vworld_key" mapstructure:"vworld_key"`
	AnimationMS int     `yaml:"animation_ms" mapstructure:"animation_ms"`
}

// SessionConfig controls per-browser state lifetime.
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name" mapstructure:"cookie_name"`
	IdleTTL    time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
}

// ImportConfig controls the admin re-import trigger.
type ImportConfig struct {
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// StoreConfig selects where fetched layer features are cached.
type StoreConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server settings that are not CLI flags.
type ServerConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration. An empty path searches for riskmap.yaml in the
// working directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("riskmap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RISKMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("map.center_lon", 127.1388)
	v.SetDefault("map.center_lat", 37.4449)
	v.SetDefault("map.zoom", 14)
	v.SetDefault("map.search_zoom", 17)
	v.SetDefault("map.tile_url", "https://api.vworld.kr/req/wmts/1.0.0/{key}/Base/{z}/{y}/{x}.png")
	v.SetDefault("map.vworld_key", "")
	v.SetDefault("map.animation_ms", 800)
	v.SetDefault("session.cookie_name", "riskmap_session")
	v.SetDefault("session.idle_ttl", 2*time.Hour)
	v.SetDefault("import.cooldown", 30*time.Second)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.data_dir", ".data")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// TileURLWithKey returns the base tile URL template with the VWorld key filled in.
func (m MapConfig) TileURLWithKey() string {
	return strings.ReplaceAll(m.TileURL, "{key}", m.VWorldKey)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
