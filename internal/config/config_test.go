package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err != ErrMissingDatabaseURL {
		t.Fatalf("err = %v, want ErrMissingDatabaseURL", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/streamvault")
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("REFRESH_TIMEOUT", "10m")
	t.Setenv("WORKERS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 250 {
		t.Errorf("batch size = %d, want env override", cfg.BatchSize)
	}
	if cfg.RefreshTimeout != 10*time.Minute {
		t.Errorf("refresh timeout = %v, want 10m", cfg.RefreshTimeout)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d, want default kept on unparsable value", cfg.Workers)
	}
}

func TestApplyEnvFileDoesNotClobber(t *testing.T) {
	t.Setenv("SV_TEST_SET", "original")
	t.Setenv("SV_TEST_UNSET", "")
	applyEnvFile([]byte("# comment\nSV_TEST_SET=changed\nSV_TEST_UNSET=\"filled\"\nbroken line\n"))
	if got := os.Getenv("SV_TEST_SET"); got != "original" {
		t.Errorf("SV_TEST_SET = %q, env must win over file", got)
	}
	if got := os.Getenv("SV_TEST_UNSET"); got != "filled" {
		t.Errorf("SV_TEST_UNSET = %q, want quoted value applied", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("database_url: postgres://localhost/streamvault\nredis_url: redis://localhost:6379/0\nbatch_size: 500\nlease_ttl: 90s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" || cfg.BatchSize != 500 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LeaseTTL != 90*time.Second {
		t.Errorf("lease ttl = %v, want 90s", cfg.LeaseTTL)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d, want default", cfg.Workers)
	}
}
