package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LocalFallbackBase != "http://127.0.0.1:8787" {
		t.Fatalf("unexpected local fallback base %q", cfg.LocalFallbackBase)
	}
	if cfg.QueueMaxLength != 50 || cfg.MaxAgeDays != 30 {
		t.Fatalf("unexpected queue defaults %+v", cfg)
	}
	if cfg.RequestTimeout.Std() != 12*time.Second {
		t.Fatalf("unexpected request timeout %v", cfg.RequestTimeout.Std())
	}
	if cfg.SyncSchedule != "@every 2m" {
		t.Fatalf("unexpected schedule %q", cfg.SyncSchedule)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file must fall back to defaults: %v", err)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genrelay.yaml")
	contents := `
primary_base: https://api.example.com
secondary_base: https://backup.example.com
page_scheme: https
page_host: app.example.com
storage_dsn: "sqlite:genrelay.db"
queue_max_length: 25
retry_attempts: 2
retry_base_delay: 500ms
request_timeout: 20s
sync_schedule: "@every 5m"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.PrimaryBase != "https://api.example.com" || cfg.SecondaryBase != "https://backup.example.com" {
		t.Fatalf("unexpected bases %+v", cfg)
	}
	if cfg.StorageDSN != "sqlite:genrelay.db" {
		t.Fatalf("unexpected storage dsn %q", cfg.StorageDSN)
	}
	if cfg.QueueMaxLength != 25 || cfg.RetryAttempts != 2 {
		t.Fatalf("unexpected integer fields %+v", cfg)
	}
	if cfg.RetryBaseDelay.Std() != 500*time.Millisecond || cfg.RequestTimeout.Std() != 20*time.Second {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.SyncSchedule != "@every 5m" {
		t.Fatalf("unexpected schedule %q", cfg.SyncSchedule)
	}
	// Unset fields keep their defaults.
	if cfg.SavePath != "/api/generations" {
		t.Fatalf("unexpected save path %q", cfg.SavePath)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genrelay.yaml")
	if err := os.WriteFile(path, []byte("primary_base: [broken"), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("GENRELAY_PRIMARY_BASE", "https://env.example.com")
	t.Setenv("GENRELAY_QUEUE_MAX_LENGTH", "10")
	t.Setenv("GENRELAY_REQUEST_TIMEOUT", "5s")
	t.Setenv("GENRELAY_RETRY_ATTEMPTS", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.PrimaryBase != "https://env.example.com" {
		t.Fatalf("expected env override, got %q", cfg.PrimaryBase)
	}
	if cfg.QueueMaxLength != 10 {
		t.Fatalf("expected env queue length, got %d", cfg.QueueMaxLength)
	}
	if cfg.RequestTimeout.Std() != 5*time.Second {
		t.Fatalf("expected env timeout, got %v", cfg.RequestTimeout.Std())
	}
	// Unparsable numeric overrides keep the prior value.
	if cfg.RetryAttempts != 1 {
		t.Fatalf("expected default retry attempts, got %d", cfg.RetryAttempts)
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genrelay.yaml")
	if err := os.WriteFile(path, []byte("queue_max_length: -5\nretry_attempts: -2\n"), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.QueueMaxLength != 50 {
		t.Fatalf("expected queue length clamped to default, got %d", cfg.QueueMaxLength)
	}
	if cfg.RetryAttempts != 0 {
		t.Fatalf("expected retry attempts clamped to zero, got %d", cfg.RetryAttempts)
	}
}
