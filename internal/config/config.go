// Package config loads deal-map settings from config.yaml, .env, and
// DEALMAP_* environment variables, and sets up the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Feed    FeedConfig    `yaml:"feed" mapstructure:"feed"`
	Assets  AssetsConfig  `yaml:"assets" mapstructure:"assets"`
	Map     MapConfig     `yaml:"map" mapstructure:"map"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Surface SurfaceConfig `yaml:"surface" mapstructure:"surface"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// FeedConfig selects and configures the live pin feed.
type FeedConfig struct {
	// Source is "redis" or "webhook".
	Source          string `yaml:"source" mapstructure:"source"`
	RedisAddr       string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword   string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB         int    `yaml:"redis_db" mapstructure:"redis_db"`
	Channel         string `yaml:"channel" mapstructure:"channel"`
	MaxPayloadBytes int64  `yaml:"max_payload_bytes" mapstructure:"max_payload_bytes"`
}

// AssetsConfig locates the pictogram images.
type AssetsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// MapConfig is handed to the browser map SDK as-is.
type MapConfig struct {
	SubscriptionKey string  `yaml:"subscription_key" mapstructure:"subscription_key"`
	CenterLon       float64 `yaml:"center_lon" mapstructure:"center_lon"`
	CenterLat       float64 `yaml:"center_lat" mapstructure:"center_lat"`
	Zoom            int     `yaml:"zoom" mapstructure:"zoom"`
	View            string  `yaml:"view" mapstructure:"view"`
	ClusterRadius   int     `yaml:"cluster_radius" mapstructure:"cluster_radius"`
}

// SessionConfig controls idle session cleanup.
type SessionConfig struct {
	IdleTimeoutMins  int `yaml:"idle_timeout_mins" mapstructure:"idle_timeout_mins"`
	ReapIntervalSecs int `yaml:"reap_interval_secs" mapstructure:"reap_interval_secs"`
}

// SurfaceConfig configures hit-testing.
type SurfaceConfig struct {
	HitRadiusMeters float64 `yaml:"hit_radius_meters" mapstructure:"hit_radius_meters"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory, if present, is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("feed.source", "redis")
	v.SetDefault("feed.redis_addr", "localhost:6379")
	v.SetDefault("feed.redis_db", 0)
	v.SetDefault("feed.channel", "mapDataUpdate")
	v.SetDefault("feed.max_payload_bytes", 32<<20)
	v.SetDefault("assets.dir", "public/icons")
	v.SetDefault("map.center_lon", -74.006)
	v.SetDefault("map.center_lat", 40.7128)
	v.SetDefault("map.zoom", 8)
	v.SetDefault("map.view", "Auto")
	v.SetDefault("map.cluster_radius", 45)
	v.SetDefault("session.idle_timeout_mins", 30)
	v.SetDefault("session.reap_interval_secs", 60)
	v.SetDefault("surface.hit_radius_meters", 50.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Credentials have no default; bind so the env var alone is enough.
	if err := v.BindEnv("map.subscription_key"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}
	if err := v.BindEnv("feed.redis_password"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs before it starts.
// Mode is the command name: serve, publish, or render.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		switch c.Feed.Source {
		case "redis":
			if c.Feed.RedisAddr == "" {
				errs = append(errs, "feed.redis_addr is required for the redis source")
			}
		case "webhook":
		default:
			errs = append(errs, fmt.Sprintf("feed.source must be redis or webhook, got %q", c.Feed.Source))
		}
		if c.Feed.Channel == "" {
			errs = append(errs, "feed.channel is required")
		}
		if c.Surface.HitRadiusMeters <= 0 {
			errs = append(errs, "surface.hit_radius_meters must be > 0")
		}
		if c.Session.IdleTimeoutMins <= 0 || c.Session.ReapIntervalSecs <= 0 {
			errs = append(errs, "session.idle_timeout_mins and session.reap_interval_secs must be > 0")
		}
	case "publish":
		if c.Feed.RedisAddr == "" {
			errs = append(errs, "feed.redis_addr is required")
		}
		if c.Feed.Channel == "" {
			errs = append(errs, "feed.channel is required")
		}
	case "render":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
