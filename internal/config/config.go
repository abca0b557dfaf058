// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the scopesync daemon configuration.
type Config struct {
	DataPath        string        `env:"SCOPESYNC_DATA_PATH" envDefault:"./data"`
	Profile         string        `env:"SCOPESYNC_PROFILE" envDefault:"default"`
	ListenAddr      string        `env:"SCOPESYNC_LISTEN_ADDR" envDefault:"127.0.0.1:7380"`
	RemoteURL       string        `env:"SCOPESYNC_REMOTE_URL" envDefault:"http://localhost:8080"`
	LogLevel        string        `env:"SCOPESYNC_LOG_LEVEL" envDefault:"info"`
	PushInterval    time.Duration `env:"SCOPESYNC_PUSH_INTERVAL" envDefault:"1m"`
	OutboxRetention time.Duration `env:"SCOPESYNC_OUTBOX_RETENTION" envDefault:"24h"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
