// Package config loads engine and estimation settings from an optional
// YAML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Assumptions are the default technical assumptions applied when the
// requirements text leaves them unspecified.
type Assumptions struct {
	EngineerLevel          string `yaml:"engineer_level" json:"engineer_level"`
	DevelopmentEnvironment string `yaml:"development_environment" json:"development_environment"`
	DatabaseTables         int    `yaml:"database_tables" json:"database_tables"`
	APIEndpoints           int    `yaml:"api_endpoints" json:"api_endpoints"`
	TestPages              int    `yaml:"test_pages" json:"test_pages"`
	TechStack              string `yaml:"tech_stack" json:"tech_stack"`
}

// Config is the full runtime configuration.
type Config struct {
	DailyRate float64 `yaml:"daily_rate"`
	TaxRate   float64 `yaml:"tax_rate"`
	Currency  string  `yaml:"currency"`
	Language  string  `yaml:"language"`

	DefaultAssumptions Assumptions `yaml:"default_assumptions"`

	MaxDeliverables int `yaml:"max_deliverables"`
	MaxIterations   int `yaml:"max_iterations"`

	LogLevel string `yaml:"log_level"`

	Store StoreConfig `yaml:"store"`
}

// StoreConfig selects and configures the checkpoint store backend.
type StoreConfig struct {
	// Backend is one of "memory", "file", "badger", "redis".
	Backend string `yaml:"backend"`

	// Path is the base directory for the file and badger backends.
	Path string `yaml:"path"`

	// RedisAddr is the host:port of the redis backend.
	RedisAddr string `yaml:"redis_addr"`

	// RedisDB is the redis database index.
	RedisDB int `yaml:"redis_db"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DailyRate: 50000,
		TaxRate:   0.10,
		Currency:  "JPY",
		Language:  "ja",
		DefaultAssumptions: Assumptions{
			EngineerLevel:          "mid-level engineer",
			DevelopmentEnvironment: "standard development environment",
			DatabaseTables:         20,
			APIEndpoints:           50,
			TestPages:              1000,
			TechStack:              "React/Vue.js + Node.js/Python",
		},
		MaxDeliverables: 100,
		MaxIterations:   5,
		LogLevel:        "info",
		Store: StoreConfig{
			Backend: "memory",
			Path:    ".tally",
		},
	}
}

// Load reads the YAML file at path (when non-empty), applies environment
// overrides, validates, and returns the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TALLY_DAILY_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DailyRate = f
		}
	}
	if v := os.Getenv("TALLY_TAX_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TaxRate = f
		}
	}
	if v := os.Getenv("TALLY_CURRENCY"); v != "" {
		cfg.Currency = v
	}
	if v := os.Getenv("TALLY_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("TALLY_MAX_DELIVERABLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxDeliverables = n
		}
	}
	if v := os.Getenv("TALLY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TALLY_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("TALLY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TALLY_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.DailyRate <= 0 {
		return fmt.Errorf("daily_rate must be positive, got %v", c.DailyRate)
	}
	if c.TaxRate < 0 || c.TaxRate > 1 {
		return fmt.Errorf("tax_rate must be within [0, 1], got %v", c.TaxRate)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxDeliverables <= 0 {
		return fmt.Errorf("max_deliverables must be positive, got %d", c.MaxDeliverables)
	}
	switch c.Store.Backend {
	case "memory", "file", "badger", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}
