// Package config loads the genrelay configuration from a YAML file
// with GENRELAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from "12s"-style YAML
// strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	// Build-time backend addresses.
	PrimaryBase       string `yaml:"primary_base"`
	SecondaryBase     string `yaml:"secondary_base"`
	LocalFallbackBase string `yaml:"local_fallback_base"`

	// The origin the dashboard itself is served from; gates loopback
	// candidate eligibility.
	PageScheme string `yaml:"page_scheme"`
	PageHost   string `yaml:"page_host"`

	// StorageDSN selects the storage adapter (file:, sqlite:, memory:).
	StorageDSN string `yaml:"storage_dsn"`

	// GenerationsDSN is the optional Postgres DSN for the direct
	// compatibility write path.
	GenerationsDSN string `yaml:"generations_dsn"`

	SavePath       string   `yaml:"save_path"`
	QueueMaxLength int      `yaml:"queue_max_length"`
	MaxAgeDays     int      `yaml:"max_age_days"`
	RetryAttempts  int      `yaml:"retry_attempts"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
	RequestTimeout Duration `yaml:"request_timeout"`
	ProbeTimeout   Duration `yaml:"probe_timeout"`
	SyncSchedule   string   `yaml:"sync_schedule"`
}

func Default() Config {
	return Config{
		LocalFallbackBase: "http://127.0.0.1:8787",
		PageScheme:        "https",
		StorageDSN:        "file:genrelay-state.json",
		SavePath:          "/api/generations",
		QueueMaxLength:    50,
		MaxAgeDays:        30,
		RetryAttempts:     1,
		RetryBaseDelay:    Duration(250 * time.Millisecond),
		RequestTimeout:    Duration(12 * time.Second),
		ProbeTimeout:      Duration(3 * time.Second),
		SyncSchedule:      "@every 2m",
	}
}

// Load reads the config file when present, then applies environment
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if cfg.QueueMaxLength <= 0 {
		cfg.QueueMaxLength = 50
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.PrimaryBase = envOrDefault("GENRELAY_PRIMARY_BASE", cfg.PrimaryBase)
	cfg.SecondaryBase = envOrDefault("GENRELAY_SECONDARY_BASE", cfg.SecondaryBase)
	cfg.LocalFallbackBase = envOrDefault("GENRELAY_LOCAL_FALLBACK_BASE", cfg.LocalFallbackBase)
	cfg.PageScheme = envOrDefault("GENRELAY_PAGE_SCHEME", cfg.PageScheme)
	cfg.PageHost = envOrDefault("GENRELAY_PAGE_HOST", cfg.PageHost)
	cfg.StorageDSN = envOrDefault("GENRELAY_STORAGE_DSN", cfg.StorageDSN)
	cfg.GenerationsDSN = envOrDefault("GENRELAY_GENERATIONS_DSN", cfg.GenerationsDSN)
	cfg.SavePath = envOrDefault("GENRELAY_SAVE_PATH", cfg.SavePath)
	cfg.SyncSchedule = envOrDefault("GENRELAY_SYNC_SCHEDULE", cfg.SyncSchedule)
	cfg.QueueMaxLength = intEnv("GENRELAY_QUEUE_MAX_LENGTH", cfg.QueueMaxLength)
	cfg.MaxAgeDays = intEnv("GENRELAY_MAX_AGE_DAYS", cfg.MaxAgeDays)
	cfg.RetryAttempts = intEnv("GENRELAY_RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryBaseDelay = durationEnv("GENRELAY_RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.RequestTimeout = durationEnv("GENRELAY_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ProbeTimeout = durationEnv("GENRELAY_PROBE_TIMEOUT", cfg.ProbeTimeout)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback Duration) Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return Duration(value)
}
