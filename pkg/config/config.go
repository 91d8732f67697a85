// Package config loads and validates the recording configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration for a recording run. Every field has
// a working default; a missing config file is not an error.
type Config struct {
	// OutputDir is the parent directory session directories are
	// created under.
	OutputDir string `yaml:"output_dir"`

	// Headless launches the browser without a visible window. Useful
	// for programmatic sessions driven through the synthetic-operation
	// surface; interactive recording wants a visible browser.
	Headless bool `yaml:"headless"`

	Viewport  Viewport `yaml:"viewport"`
	UserAgent string   `yaml:"user_agent"`

	// AuthStatePath resumes authentication from an earlier session's
	// auth_state.json.
	AuthStatePath string `yaml:"auth_state_path"`

	// IgnoreURLGlobs lists URL patterns the HTML snapshot monitor
	// skips, e.g. "*://accounts.google.com/*".
	IgnoreURLGlobs []string `yaml:"ignore_url_globs"`

	Log Log `yaml:"log"`
}

// Viewport is the browser viewport in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Log configures the structured logger.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "console" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		OutputDir: "recordings",
		Headless:  false,
		Viewport:  Viewport{Width: 1920, Height: 1080},
		Log:       Log{Level: "info", Format: "console"},
	}
}

// Load reads a YAML config file and merges it over the defaults. An
// empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d",
			c.Viewport.Width, c.Viewport.Height)
	}
	for _, pattern := range c.IgnoreURLGlobs {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid ignore_url_globs pattern %q: %w", pattern, err)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
