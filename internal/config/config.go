package config

import (
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
	DataDir  string `env:"DATA_DIR" envDefault:"./data"`

	// BackendURL is the marketplace API serving advertisements.
	BackendURL string `env:"BACKEND_URL" envDefault:"http://localhost:3000"`

	// RedisAddr switches the pending store to redis when set.
	RedisAddr string `env:"REDIS_ADDR"`

	TokenSecret string `env:"TOKEN_SECRET" envDefault:"adgate-dev-secret"`

	// AdNetworks is the priority order; AdNetworkTags maps network id to its
	// tag endpoint. Networks without a tag are skipped.
	AdNetworks    []string          `env:"AD_NETWORKS" envSeparator:"," envDefault:"adsterra,propellerads,popads"`
	AdNetworkTags map[string]string `env:"AD_NETWORK_TAGS" envSeparator:"," envKeyValSeparator:"="`

	// AdBlockPolicy: "advisory" (default) or "enforce".
	AdBlockPolicy string `env:"ADBLOCK_POLICY" envDefault:"advisory"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
