// Package config loads residencyctl's configuration from (highest to
// lowest priority): command-line flags, RESIDENCY_* environment
// variables, a project config file (.residency/config.yaml in cwd), a
// home config file (~/.residency/config.yaml), and finally built-in
// defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables residencyctl exposes.
type Config struct {
	// ImageBudget is the hard total-bytes residency budget.
	ImageBudget uint64 `yaml:"image_budget"`
	// ImageBudgetPerIteration is the soft per-iteration new-work budget.
	ImageBudgetPerIteration uint64 `yaml:"image_budget_per_iteration"`
	// Workers sizes the background task group's worker pool. Zero means
	// runtime.NumCPU.
	Workers int `yaml:"workers"`
	// Profile names a profiling.Kind to run under, e.g. "cpu" or "gio".
	Profile string `yaml:"profile"`
}

const (
	defaultImageBudget             = 256 << 20
	defaultImageBudgetPerIteration = 16 << 20
	defaultProfile                 = "none"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ImageBudget:             defaultImageBudget,
		ImageBudgetPerIteration: defaultImageBudgetPerIteration,
		Profile:                 defaultProfile,
	}
}

// Load resolves configuration with precedence: flags > env > project >
// home > defaults. projectPath may be empty, in which case
// ".residency/config.yaml" in the current directory is tried.
func Load(projectPath string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if home, err := loadFromPath(homeConfigPath()); err == nil && home != nil {
		cfg = merge(cfg, home)
	}

	if projectPath == "" {
		projectPath = defaultProjectConfigPath()
	}
	if project, err := loadFromPath(projectPath); err == nil && project != nil {
		cfg = merge(cfg, project)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".residency", "config.yaml")
}

func defaultProjectConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".residency", "config.yaml")
}

func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays non-zero fields of src onto dst, returning dst.
func merge(dst, src *Config) *Config {
	if src.ImageBudget != 0 {
		dst.ImageBudget = src.ImageBudget
	}
	if src.ImageBudgetPerIteration != 0 {
		dst.ImageBudgetPerIteration = src.ImageBudgetPerIteration
	}
	if src.Workers != 0 {
		dst.Workers = src.Workers
	}
	if src.Profile != "" {
		dst.Profile = src.Profile
	}
	return dst
}

func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("RESIDENCY_IMAGE_BUDGET"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ImageBudget = n
		}
	}
	if v := os.Getenv("RESIDENCY_IMAGE_BUDGET_PER_ITERATION"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ImageBudgetPerIteration = n
		}
	}
	if v := os.Getenv("RESIDENCY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("RESIDENCY_PROFILE"); v != "" {
		cfg.Profile = v
	}
	return cfg
}
