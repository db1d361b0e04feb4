// Package config содержит логику чтения конфигурации сервиса ателье.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса ателье.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	AuthSecret        string `env:"AUTH_SECRET"`
	SlotHorizonWeeks  int    `env:"SLOT_HORIZON_WEEKS"`
	PruneIntervalMins int    `env:"PRUNE_INTERVAL_MINUTES"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envHorizon := cfg.SlotHorizonWeeks
	envPrune := cfg.PruneIntervalMins

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.IntVar(&cfg.SlotHorizonWeeks, "w", 4, "pickup booking horizon in weeks")
	flag.IntVar(&cfg.PruneIntervalMins, "p", 60, "slot pruning interval in minutes")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envHorizon != 0 {
		cfg.SlotHorizonWeeks = envHorizon
	}
	if envPrune != 0 {
		cfg.PruneIntervalMins = envPrune
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
