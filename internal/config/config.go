// Package config loads the limit engine's configuration.
// Priority: ENV > .env file > YAML file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the limit engine.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
	Engine  Engine  `yaml:"engine"`
	Market  Market  `yaml:"market"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Storage holds connection strings. Empty values select the in-memory
// implementations.
type Storage struct {
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Logging configures the process logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Engine holds the scan and lock tunables.
type Engine struct {
	ScanInterval   time.Duration `yaml:"scan_interval"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// Market describes the exchange session.
type Market struct {
	Timezone   string   `yaml:"timezone"`
	Open       string   `yaml:"open"`  // "15:04"
	Close      string   `yaml:"close"` // "15:04"
	Holidays   []string `yaml:"holidays"`
	AlwaysOpen bool     `yaml:"always_open"`
}

// Load reads the YAML file at path, if any, loads a .env file from the
// working directory, if any, applies environment overrides and fills unset
// fields with defaults. An empty path or a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	// Optional; variables already set in the environment are not replaced.
	_ = godotenv.Load()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"SCAN_INTERVAL", &cfg.Engine.ScanInterval},
		{"LOCK_TIMEOUT", &cfg.Engine.LockTimeout},
		{"BATCH_TIMEOUT", &cfg.Engine.BatchTimeout},
		{"SWEEP_INTERVAL", &cfg.Engine.SweepInterval},
		{"CACHE_TTL", &cfg.Storage.CacheTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	if v := os.Getenv("MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENCY: %w", err)
		}
		cfg.Engine.MaxConcurrency = n
	}

	if v := os.Getenv("MARKET_TIMEZONE"); v != "" {
		cfg.Market.Timezone = v
	}
	if v := os.Getenv("MARKET_OPEN"); v != "" {
		cfg.Market.Open = v
	}
	if v := os.Getenv("MARKET_CLOSE"); v != "" {
		cfg.Market.Close = v
	}
	if v := os.Getenv("MARKET_ALWAYS_OPEN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MARKET_ALWAYS_OPEN: %w", err)
		}
		cfg.Market.AlwaysOpen = b
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Storage.CacheTTL <= 0 {
		cfg.Storage.CacheTTL = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Engine.ScanInterval <= 0 {
		cfg.Engine.ScanInterval = time.Second
	}
	if cfg.Engine.LockTimeout <= 0 {
		cfg.Engine.LockTimeout = 30 * time.Second
	}
	if cfg.Engine.BatchTimeout <= 0 {
		cfg.Engine.BatchTimeout = 30 * time.Second
	}
	if cfg.Engine.SweepInterval <= 0 {
		cfg.Engine.SweepInterval = 5 * time.Minute
	}
	if cfg.Engine.MaxConcurrency <= 0 {
		cfg.Engine.MaxConcurrency = 64
	}
	if cfg.Market.Timezone == "" {
		cfg.Market.Timezone = "Asia/Seoul"
	}
	if cfg.Market.Open == "" {
		cfg.Market.Open = "09:00"
	}
	if cfg.Market.Close == "" {
		cfg.Market.Close = "15:30"
	}
}
