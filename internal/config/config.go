// Package config loads codesync settings from codesync.yaml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"codesync/internal/engine"
	"codesync/internal/identity"
	"codesync/internal/inject"
)

// FileName is the configuration file looked up in the workspace root.
const FileName = "codesync.yaml"

// Config is the top-level codesync configuration.
type Config struct {
	// Workers bounds concurrent file jobs. Zero uses the CPU count.
	Workers         int      `yaml:"workers"`
	MarkerAttribute string   `yaml:"marker_attribute"`
	Journal         string   `yaml:"journal"`
	Protect         []string `yaml:"protect"`
	Listen          string   `yaml:"listen"`
	LogLevel        string   `yaml:"log_level"`

	Layout            string         `yaml:"layout"`
	Script            *inject.Marker `yaml:"script"`
	DeprecatedScripts []string       `yaml:"deprecated_scripts"`

	FontsFile string `yaml:"fonts_file"`
	ThemeFile string `yaml:"theme_file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		MarkerAttribute: identity.MarkerAttribute,
		Listen:          "127.0.0.1:7317",
		LogLevel:        "info",
		Layout:          "app/layout.tsx",
		FontsFile:       "app/fonts.ts",
		ThemeFile:       "tailwind.config.ts",
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadDir loads FileName from dir if it exists.
func LoadDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName), true)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CODESYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CODESYNC_JOURNAL"); v != "" {
		c.Journal = v
	}
	if v := os.Getenv("CODESYNC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CODESYNC_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

func (c *Config) applyDefaults() error {
	if c.MarkerAttribute == "" {
		c.MarkerAttribute = identity.MarkerAttribute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Journal == "" {
		p, err := DefaultJournalPath()
		if err != nil {
			return err
		}
		c.Journal = p
	}
	return nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Script != nil && c.Script.Src == "" {
		return fmt.Errorf("script.src is required")
	}
	if _, err := inject.CompilePatterns(c.DeprecatedScripts); err != nil {
		return fmt.Errorf("deprecated_scripts: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// EngineOptions returns engine settings derived from c.
func (c *Config) EngineOptions(logger *slog.Logger) engine.Options {
	return engine.Options{
		Workers: c.Workers,
		Protect: c.Protect,
		Logger:  logger,
	}
}

// Injections returns the script injection configured for the layout, if
// any.
func (c *Config) Injections() []engine.Injection {
	if c.Script == nil || c.Layout == "" {
		return nil
	}
	return []engine.Injection{{
		Path:       c.Layout,
		Marker:     *c.Script,
		Deprecated: c.DeprecatedScripts,
	}}
}
