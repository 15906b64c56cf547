package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL     string `yaml:"database_url"`
	RedisURL        string `yaml:"redis_url"`
	MetricsAddr     string `yaml:"metrics_addr"`
	BatchSize       int    `yaml:"batch_size"`
	Workers         int    `yaml:"workers"`
	RefreshTimeout  string `yaml:"refresh_timeout"`
	LeaseTTL        string `yaml:"lease_ttl"`
	RefreshInterval string `yaml:"refresh_interval"`
	UserAgent       string `yaml:"user_agent"`
	FetchTimeout    string `yaml:"fetch_timeout"`
	LogLevel        string `yaml:"log_level"`
}

// LoadFromFile loads config from a YAML file. database_url is required;
// durations are Go duration strings ("30m", "90s").
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}

	c := defaults()
	c.DatabaseURL = f.DatabaseURL
	c.RedisURL = f.RedisURL
	if f.MetricsAddr != "" {
		c.MetricsAddr = f.MetricsAddr
	}
	if f.BatchSize > 0 {
		c.BatchSize = f.BatchSize
	}
	if f.Workers > 0 {
		c.Workers = f.Workers
	}
	fileDuration(&c.RefreshTimeout, f.RefreshTimeout)
	fileDuration(&c.LeaseTTL, f.LeaseTTL)
	fileDuration(&c.RefreshInterval, f.RefreshInterval)
	if f.UserAgent != "" {
		c.UserAgent = f.UserAgent
	}
	fileDuration(&c.FetchTimeout, f.FetchTimeout)
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	return c, nil
}

func fileDuration(dst *time.Duration, s string) {
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}
