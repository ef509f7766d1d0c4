package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// clearEnv unsets every EVENTQ_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvOptimize, EnvDatabase, EnvLogLevel, EnvLogFormat, EnvMetricsAddr} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Optimize)
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "eventq.yaml", `
optimize: false
database: /var/lib/eventq/cache.db
log_level: debug
log_format: json
metrics_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Optimize:    false,
		Database:    "/var/lib/eventq/cache.db",
		LogLevel:    "debug",
		LogFormat:   "json",
		MetricsAddr: ":9090",
	}, cfg)
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "eventq.yaml", "log_level: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Optimize)
	assert.Equal(t, "eventq.db", cfg.Database)
}

func TestLoad_EmptyYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "eventq.yaml", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "eventq.yaml", "optimise: false\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimise")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "eventq.yaml", "optimize: true\nlog_level: debug\n")
	t.Setenv(EnvOptimize, "false")
	t.Setenv(EnvLogLevel, "ERROR")
	t.Setenv(EnvDatabase, "env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Optimize)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "env.db", cfg.Database)
}

func TestLoad_InvalidEnvBool(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOptimize, "sometimes")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvOptimize)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, ".env", "EVENTQ_DB=dotenv.db\nEVENTQ_LOG_FORMAT=json\n")
	t.Cleanup(func() {
		os.Unsetenv(EnvDatabase)
		os.Unsetenv(EnvLogFormat)
	})

	cfg, err := Load("", envFile, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "dotenv.db", cfg.Database)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_ProcessEnvBeatsDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDatabase, "process.db")
	envFile := writeFile(t, ".env", "EVENTQ_DB=dotenv.db\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "process.db", cfg.Database)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"no database", func(c *Config) { c.Database = "" }, "database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		assert.Equal(t, want, Config{LogLevel: level}.SlogLevel(), level)
	}
}
