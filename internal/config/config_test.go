package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "uipilot" {
		t.Errorf("expected Name=uipilot, got %s", cfg.Name)
	}
	if cfg.Browser.Driver != "rod" {
		t.Errorf("expected Driver=rod, got %s", cfg.Browser.Driver)
	}
	require.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("UIPILOT_CHROME_BIN", "")
	t.Setenv("UIPILOT_HEADLESS", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Browser.Driver = "static"
	cfg.Browser.UserAgent = "uipilot-test"
	cfg.Run.Deadline = "90s"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "static", loaded.Browser.Driver)
	assert.Equal(t, "uipilot-test", loaded.Browser.UserAgent)
	assert.Equal(t, 90*time.Second, loaded.GetDeadline())
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Run.Deadline, cfg.Run.Deadline)
}

func TestConfig_LoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("UIPILOT_CHROME_BIN", "/opt/chrome/chrome")
	t.Setenv("UIPILOT_HEADLESS", "false")
	t.Setenv("UIPILOT_LOG_LEVEL", "debug")
	t.Setenv("UIPILOT_DIAGNOSTICS_DIR", "/tmp/diag")
	t.Setenv("UIPILOT_HISTORY_DB", "/tmp/h.db")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/opt/chrome/chrome", cfg.Browser.Bin)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/diag", cfg.Run.DiagnosticsDir)
	assert.Equal(t, "/tmp/h.db", cfg.History.DatabasePath)
}

func TestConfig_EnvOverrides_BadBoolIgnored(t *testing.T) {
	t.Setenv("UIPILOT_HEADLESS", "sometimes")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.True(t, cfg.Browser.Headless)
}

func TestConfig_DurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 30*time.Second, cfg.GetNavigationTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetReadyQuiet())
	assert.Equal(t, 10*time.Minute, cfg.GetDeadline())
	assert.Equal(t, 15*time.Second, cfg.GetStepTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 2*time.Second, cfg.GetBackoff())

	cfg.Run.StepTimeout = "-3s"
	assert.Equal(t, 15*time.Second, cfg.GetStepTimeout())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Browser.Driver = "selenium" }, "invalid browser driver"},
		{"negative viewport", func(c *Config) { c.Browser.ViewportWidth = -1 }, "invalid viewport"},
		{"negative concurrency", func(c *Config) { c.Run.Concurrency = -2 }, "invalid run concurrency"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	c := LoggingConfig{}
	assert.True(t, c.IsCategoryEnabled("poll"))

	c.Categories = map[string]bool{"poll": false, "executor": true}
	assert.False(t, c.IsCategoryEnabled("poll"))
	assert.True(t, c.IsCategoryEnabled("executor"))
	assert.True(t, c.IsCategoryEnabled("diag"))
}
