package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Storage backends accepted by KV_BACKEND.
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	KVBackend     string `mapstructure:"KV_BACKEND"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	StorageKey    string `mapstructure:"STORAGE_KEY"`
	HTTPAddr      string `mapstructure:"HTTP_ADDR"`
	GatewayAddr   string `mapstructure:"GATEWAY_ADDR"`
	OriginURL     string `mapstructure:"ORIGIN_URL"`
	CacheName     string `mapstructure:"CACHE_NAME"`
	OfflineURL    string `mapstructure:"OFFLINE_URL"`
	AssetManifest string `mapstructure:"ASSET_MANIFEST"`
	SeedDemo      bool   `mapstructure:"SEED_DEMO"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	GinMode       string `mapstructure:"GIN_MODE"`
}

var AppConfig *Config

// current is the viper instance behind AppConfig, kept for watching.
var current *viper.Viper

var defaults = map[string]any{
	"DATABASE_URL":   "",
	"KV_BACKEND":     BackendSQL,
	"REDIS_URL":      "redis://localhost:6379/0",
	"STORAGE_KEY":    "ps4_games",
	"HTTP_ADDR":      ":8080",
	"GATEWAY_ADDR":   ":8081",
	"ORIGIN_URL":     "http://localhost:8080",
	"CACHE_NAME":     "ps4-game-tracker-v2",
	"OFFLINE_URL":    "/offline.html",
	"ASSET_MANIFEST": "/,/static/style.css,/static/app.js,/static/manifest.json,/offline.html",
	"SEED_DEMO":      true,
	"LOG_LEVEL":      "info",
	"GIN_MODE":       "debug",
}

// LoadConfig loads the configuration from a .env file in dir and environment
// variables, and stores it in AppConfig. The .env file is optional.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug(".env file not found, loading from environment variables")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	AppConfig = cfg
	current = v
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.KVBackend = strings.ToLower(strings.TrimSpace(cfg.KVBackend))
	switch cfg.KVBackend {
	case BackendSQL, BackendRedis:
	default:
		return nil, fmt.Errorf("unknown KV_BACKEND %q", cfg.KVBackend)
	}
	return &cfg, nil
}

// Manifest splits ASSET_MANIFEST into URLs, skipping blanks.
func (c *Config) Manifest() []string {
	var urls []string
	for _, u := range strings.Split(c.AssetManifest, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Level maps LOG_LEVEL to a slog level. Unknown values mean info.
func (c *Config) Level() slog.Level {
	return parseLevel(c.LogLevel)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OnLogLevelChange calls fn with the current level, then again whenever the
// loaded .env file changes. It is a no-op watch when no file was read.
func OnLogLevelChange(fn func(slog.Level)) {
	if AppConfig != nil {
		fn(AppConfig.Level())
	}
	v := current
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(parseLevel(v.GetString("LOG_LEVEL")))
	})
	v.WatchConfig()
}
