// Package config loads daemon configuration from environment variables, with
// .env fallback files and an optional YAML file.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrMissingDatabaseURL is returned when no database connection string is
// configured anywhere.
var ErrMissingDatabaseURL = errors.New("config: DATABASE_URL is required")

// Config holds everything the daemon needs to run.
type Config struct {
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`

	// MetricsAddr is the listen address of the Prometheus endpoint.
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	Workers   int `yaml:"workers" env:"WORKERS"`

	// RefreshTimeout is the wall-clock ceiling for one account refresh.
	// LeaseTTL bounds how long a crashed refresh keeps its account locked.
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"REFRESH_TIMEOUT"`
	LeaseTTL       time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`

	// RefreshInterval is how often the scheduler enqueues all active
	// accounts. Zero disables periodic refreshes.
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`

	UserAgent    string        `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCHER_TIMEOUT"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

func defaults() *Config {
	return &Config{
		MetricsAddr:     ":9090",
		BatchSize:       1000,
		Workers:         4,
		RefreshTimeout:  30 * time.Minute,
		LeaseTTL:        5 * time.Minute,
		RefreshInterval: 6 * time.Hour,
		UserAgent:       "StreamVault/1.0",
		FetchTimeout:    60 * time.Second,
		LogLevel:        "info",
	}
}

// Load builds config from environment variables. When DATABASE_URL is unset
// it first tries .env.local and .env files. DATABASE_URL is required;
// everything else has a default. An empty REDIS_URL disables the lease, the
// job queue, and the pub/sub progress sink (the daemon then only supports
// direct one-shot refreshes).
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := defaults()
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")
	envString(&c.MetricsAddr, "METRICS_ADDR")
	envInt(&c.BatchSize, "BATCH_SIZE")
	envInt(&c.Workers, "WORKERS")
	envDuration(&c.RefreshTimeout, "REFRESH_TIMEOUT")
	envDuration(&c.LeaseTTL, "LEASE_TTL")
	envDuration(&c.RefreshInterval, "REFRESH_INTERVAL")
	envString(&c.UserAgent, "FETCHER_USER_AGENT")
	envDuration(&c.FetchTimeout, "FETCHER_TIMEOUT")
	envString(&c.LogLevel, "LOG_LEVEL")
	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}

func envString(dst *string, key string) {
	if s := os.Getenv(key); s != "" {
		*dst = s
	}
}

func envInt(dst *int, key string) {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			*dst = d
		}
	}
}
