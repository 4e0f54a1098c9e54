package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all uipilot configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Browser launch defaults, overridable per flow
	Browser BrowserConfig `yaml:"browser"`

	// Run defaults
	Run RunConfig `yaml:"run"`

	// Run history ledger
	History HistoryConfig `yaml:"history"`

	// Metrics textfile output
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BrowserConfig configures the browser driver.
type BrowserConfig struct {
	Driver            string   `yaml:"driver"` // rod, static
	Bin               string   `yaml:"bin"`
	Flags             []string `yaml:"flags"`
	DebuggerURL       string   `yaml:"debugger_url"`
	Headless          bool     `yaml:"headless"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	UserAgent         string   `yaml:"user_agent"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
	ReadyQuiet        string   `yaml:"ready_quiet"`
}

// RunConfig configures run-level defaults.
type RunConfig struct {
	Deadline       string `yaml:"deadline"`
	DiagnosticsDir string `yaml:"diagnostics_dir"`
	StepTimeout    string `yaml:"step_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	Backoff        string `yaml:"backoff"`
	Concurrency    int    `yaml:"concurrency"`
}

// HistoryConfig configures the SQLite run ledger.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "uipilot",
		Version: "0.3.0",

		Browser: BrowserConfig{
			Driver:            "rod",
			Flags:             []string{"no-sandbox", "disable-dev-shm-usage", "disable-gpu"},
			Headless:          true,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			NavigationTimeout: "30s",
			ReadyQuiet:        "500ms",
		},

		Run: RunConfig{
			Deadline:       "10m",
			DiagnosticsDir: ".uipilot/diagnostics",
			StepTimeout:    "15s",
			PollInterval:   "500ms",
			Backoff:        "2s",
			Concurrency:    2,
		},

		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: ".uipilot/history.db",
		},

		Metrics: MetricsConfig{
			Enabled: false,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults still honor the environment
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if bin := os.Getenv("UIPILOT_CHROME_BIN"); bin != "" {
		c.Browser.Bin = bin
	}
	if url := os.Getenv("UIPILOT_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if v := os.Getenv("UIPILOT_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if level := os.Getenv("UIPILOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("UIPILOT_DIAGNOSTICS_DIR"); dir != "" {
		c.Run.DiagnosticsDir = dir
	}
	if path := os.Getenv("UIPILOT_HISTORY_DB"); path != "" {
		c.History.DatabasePath = path
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetNavigationTimeout returns the navigation timeout as a duration.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 30*time.Second)
}

// GetReadyQuiet returns the network quiet window used as the page ready condition.
func (c *Config) GetReadyQuiet() time.Duration {
	return parseDuration(c.Browser.ReadyQuiet, 500*time.Millisecond)
}

// GetDeadline returns the run deadline as a duration.
func (c *Config) GetDeadline() time.Duration {
	return parseDuration(c.Run.Deadline, 10*time.Minute)
}

// GetStepTimeout returns the default per-step timeout.
func (c *Config) GetStepTimeout() time.Duration {
	return parseDuration(c.Run.StepTimeout, 15*time.Second)
}

// GetPollInterval returns the default poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Run.PollInterval, 500*time.Millisecond)
}

// GetBackoff returns the default retry backoff.
func (c *Config) GetBackoff() time.Duration {
	return parseDuration(c.Run.Backoff, 2*time.Second)
}

// ValidDrivers lists all supported browser drivers.
var ValidDrivers = []string{"rod", "static"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validDriver := false
	for _, d := range ValidDrivers {
		if c.Browser.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid browser driver: %s (valid: %v)", c.Browser.Driver, ValidDrivers)
	}

	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}

	if c.Run.Concurrency < 0 {
		return fmt.Errorf("invalid run concurrency: %d", c.Run.Concurrency)
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	return nil
}
