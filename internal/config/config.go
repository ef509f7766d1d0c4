// Package config loads eventq settings from a YAML file, .env files and
// the process environment, in that order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvOptimize    = "EVENTQ_OPTIMIZE"
	EnvDatabase    = "EVENTQ_DB"
	EnvLogLevel    = "EVENTQ_LOG_LEVEL"
	EnvLogFormat   = "EVENTQ_LOG_FORMAT"
	EnvMetricsAddr = "EVENTQ_METRICS_ADDR"
)

// Recognized values for LogLevel and LogFormat.
var (
	LogLevels  = []string{"debug", "info", "warn", "error"}
	LogFormats = []string{"text", "json"}
)

// Config holds the runtime settings shared by all commands.
type Config struct {
	// Optimize enables merging of pending events in the queue.
	Optimize bool `yaml:"optimize"`

	// Database is the SQLite path of the local entity cache.
	Database string `yaml:"database"`

	// LogLevel is one of LogLevels.
	LogLevel string `yaml:"log_level"`

	// LogFormat is one of LogFormats.
	LogFormat string `yaml:"log_format"`

	// MetricsAddr, when set, is the listen address for /metrics.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Optimize:  true,
		Database:  "eventq.db",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds the configuration.
//
// path is an optional YAML file ("" skips it; unknown keys are errors).
// envFiles are loaded with godotenv when they exist; variables already in
// the process environment are not overridden. EVENTQ_* variables then
// override file values.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvOptimize); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOptimize, err)
		}
		c.Optimize = b
	}
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		c.Database = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.MetricsAddr = v
	}
	return nil
}

// Validate checks enumerated fields.
func (c Config) Validate() error {
	if !slices.Contains(LogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log_level %q: must be one of %v", c.LogLevel, LogLevels)
	}
	if !slices.Contains(LogFormats, c.LogFormat) {
		return fmt.Errorf("invalid log_format %q: must be one of %v", c.LogFormat, LogFormats)
	}
	if c.Database == "" {
		return errors.New("database path is required")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
