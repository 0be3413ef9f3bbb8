// Package config loads symflow settings from YAML files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

// Config holds the settings shared by all commands. Command-line flags
// override these when set.
type Config struct {
	// Mode is the traversal used for ARM64 functions: "static" or "symbolic".
	Mode string `yaml:"mode" env:"SYMFLOW_MODE"`

	// Format is the graph output encoding: text, json, msgpack or dot.
	Format string `yaml:"format" env:"SYMFLOW_FORMAT"`

	// MaxSteps caps traversal steps per graph (0 = unlimited).
	MaxSteps int `yaml:"max_steps" env:"SYMFLOW_MAX_STEPS"`

	// TraceBudget bounds how many producers an EVM jump target is traced through.
	TraceBudget int `yaml:"trace_budget" env:"SYMFLOW_TRACE_BUDGET"`

	// Workers is the number of functions analysed in parallel.
	Workers int `yaml:"workers" env:"SYMFLOW_WORKERS"`

	// Theme names the DOT color theme: nasa or mono.
	Theme string `yaml:"theme" env:"SYMFLOW_THEME"`

	// Logging
	Verbose bool `yaml:"verbose" env:"SYMFLOW_VERBOSE"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:        "symbolic",
		Format:      "text",
		MaxSteps:    1_000_000,
		TraceBudget: 32,
		Workers:     runtime.NumCPU(),
		Theme:       "nasa",
	}
}

// globalConfigFilePath returns the global config file path (~/.symflow/config.yaml)
func globalConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".symflow/config.yaml"
	}
	return filepath.Join(home, ".symflow", "config.yaml")
}

// projectConfigFilePath is the project-level config file.
const projectConfigFilePath = ".symflow.yaml"

// Load reads configuration with the following priority (highest to lowest):
// 1. The explicit file at path, when path is non-empty
// 2. Environment variables
// 3. Project-level config (./.symflow.yaml)
// 4. Global config (~/.symflow/config.yaml)
// 5. Defaults
func Load(path string) (*Config, error) {
	return load(globalConfigFilePath(), projectConfigFilePath, path)
}

func load(global, project, explicit string) (*Config, error) {
	cfg := DefaultConfig()

	for _, p := range []string{global, project} {
		if err := mergeFile(cfg, p, true); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if explicit != "" {
		if err := mergeFile(cfg, explicit, false); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile unmarshals the YAML file at path over cfg. Missing files are
// skipped when optional.
func mergeFile(cfg *Config, path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SYMFLOW_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("SYMFLOW_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("SYMFLOW_THEME"); v != "" {
		cfg.Theme = v
	}
	for name, dst := range map[string]*int{
		"SYMFLOW_MAX_STEPS":    &cfg.MaxSteps,
		"SYMFLOW_TRACE_BUDGET": &cfg.TraceBudget,
		"SYMFLOW_WORKERS":      &cfg.Workers,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, name, v, err)
		}
		*dst = n
	}
	if v := os.Getenv("SYMFLOW_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1" || v == "yes"
	}
	return nil
}

var (
	modes   = []string{"static", "symbolic"}
	formats = []string{"text", "json", "msgpack", "dot"}
	themes  = []string{"nasa", "mono"}
)

// Validate checks that every setting has an accepted value.
func (c *Config) Validate() error {
	if !slices.Contains(modes, c.Mode) {
		return fmt.Errorf("%w: mode %q (must be static or symbolic)", ErrInvalid, c.Mode)
	}
	if !slices.Contains(formats, c.Format) {
		return fmt.Errorf("%w: format %q (must be text, json, msgpack or dot)", ErrInvalid, c.Format)
	}
	if !slices.Contains(themes, c.Theme) {
		return fmt.Errorf("%w: theme %q (must be nasa or mono)", ErrInvalid, c.Theme)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("%w: max_steps must be non-negative", ErrInvalid)
	}
	if c.TraceBudget <= 0 {
		return fmt.Errorf("%w: trace_budget must be positive", ErrInvalid)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalid)
	}
	return nil
}
