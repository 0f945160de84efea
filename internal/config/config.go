package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "hourglass.db"
	defaultMaxDuration     = 30 * time.Minute
	defaultMaxActive       = 10
	defaultRetention       = time.Hour
	defaultCleanupSchedule = "@every 1m"
	defaultStartRate       = 10.0

	envConfigFile      = "HOURGLASS_CONFIG"
	envListenAddr      = "HOURGLASS_LISTEN_ADDR"
	envDBPath          = "HOURGLASS_DB_PATH"
	envLogLevel        = "HOURGLASS_LOG_LEVEL"
	envMaxDuration     = "HOURGLASS_MAX_DURATION"
	envMaxActive       = "HOURGLASS_MAX_ACTIVE"
	envRetention       = "HOURGLASS_RETENTION"
	envCleanupSchedule = "HOURGLASS_CLEANUP_SCHEDULE"
	envStartRate       = "HOURGLASS_START_RATE"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// MaxDuration is the longest wait a caller may request.
	MaxDuration time.Duration
	// MaxActive caps concurrent background operations. Zero disables the cap.
	MaxActive int
	// Retention is how long finished operations stay in memory.
	Retention time.Duration
	// CleanupSchedule is a cron spec for the eviction pass. An empty value in
	// the config file disables it.
	CleanupSchedule string
	// StartRate is the sustained number of start requests per second.
	// Zero disables throttling.
	StartRate float64
}

// fileConfig mirrors Config in the YAML file. Durations are strings in Go
// syntax ("90s", "1h").
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	DBPath          string   `yaml:"db_path"`
	LogLevel        string   `yaml:"log_level"`
	MaxDuration     string   `yaml:"max_duration"`
	MaxActive       *int     `yaml:"max_active"`
	Retention       string   `yaml:"retention"`
	CleanupSchedule *string  `yaml:"cleanup_schedule"`
	StartRate       *float64 `yaml:"start_rate"`
}

// Load builds the configuration from defaults, then the YAML file named by
// HOURGLASS_CONFIG (if any), then individual environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		MaxDuration:     defaultMaxDuration,
		MaxActive:       defaultMaxActive,
		Retention:       defaultRetention,
		CleanupSchedule: defaultCleanupSchedule,
		StartRate:       defaultStartRate,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if err := setDuration(&c.MaxDuration, "max_duration", fc.MaxDuration); err != nil {
		return err
	}
	if fc.MaxActive != nil {
		c.MaxActive = *fc.MaxActive
	}
	if err := setDuration(&c.Retention, "retention", fc.Retention); err != nil {
		return err
	}
	if fc.CleanupSchedule != nil {
		c.CleanupSchedule = *fc.CleanupSchedule
	}
	if fc.StartRate != nil {
		c.StartRate = *fc.StartRate
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if err := setDuration(&c.MaxDuration, envMaxDuration, os.Getenv(envMaxDuration)); err != nil {
		return err
	}
	if v := os.Getenv(envMaxActive); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxActive, err)
		}
		c.MaxActive = n
	}
	if err := setDuration(&c.Retention, envRetention, os.Getenv(envRetention)); err != nil {
		return err
	}
	if v := os.Getenv(envCleanupSchedule); v != "" {
		c.CleanupSchedule = v
	}
	if v := os.Getenv(envStartRate); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envStartRate, err)
		}
		c.StartRate = r
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.MaxDuration <= 0:
		return fmt.Errorf("max duration must be positive, got %s", c.MaxDuration)
	case c.MaxActive < 0:
		return fmt.Errorf("max active must not be negative, got %d", c.MaxActive)
	case c.Retention < 0:
		return fmt.Errorf("retention must not be negative, got %s", c.Retention)
	case c.StartRate < 0:
		return fmt.Errorf("start rate must not be negative, got %v", c.StartRate)
	}
	return nil
}

func setDuration(dst *time.Duration, name, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
