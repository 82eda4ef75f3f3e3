// Package config loads binary configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config is the environment-derived configuration for assistant binaries.
type Config struct {
	ChatURL       string `env:"ASSISTANT_CHAT_URL,required"`
	CredentialURL string `env:"ASSISTANT_CREDENTIAL_URL"`
	RealtimeURL   string `env:"ASSISTANT_REALTIME_URL"`
	HistoryWindow int    `env:"ASSISTANT_HISTORY_WINDOW" envDefault:"12"`
	LogLevel      string `env:"ASSISTANT_LOG_LEVEL" envDefault:"info"`
	Username      string `env:"ASSISTANT_USERNAME"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
