// Package config loads and defaults tierd's YAML configuration: tier
// sizing, logging, policy thresholds, sampler period, and the metrics
// listener.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tierd configuration.
type Config struct {
	Tiers   TiersConfig   `yaml:"tiers"`
	Logging LoggingConfig `yaml:"logging"`
	Policy  PolicyConfig  `yaml:"policy"`
	Sampler SamplerConfig `yaml:"sampler"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TierConfig describes one tier's capacity and latency hints, per
// spec.md §3.
type TierConfig struct {
	CapacityByte uint64        `yaml:"capacity_bytes"`
	ReadLatency  time.Duration `yaml:"read_latency"`
	WriteLatency time.Duration `yaml:"write_latency"`
}

// TiersConfig holds the FAST and SLOW tier settings.
type TiersConfig struct {
	Fast TierConfig `yaml:"fast"`
	Slow TierConfig `yaml:"slow"`
}

// LoggingConfig selects the logger's level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PolicyConfig holds the default policy's thresholds and the loop's
// pacing, per spec.md §4.4/§6.
type PolicyConfig struct {
	IntervalMS            int           `yaml:"interval_ms"`
	Hot                   float64       `yaml:"hot"`
	Cold                  float64       `yaml:"cold"`
	ConfidenceMin         float64       `yaml:"confidence_min"`
	MinResidence          time.Duration `yaml:"min_residence"`
	MaxMigrationsPerCycle int           `yaml:"max_migrations_per_cycle"`
}

// SamplerConfig holds the hardware sampler's sample period, per spec.md
// §6.
type SamplerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SamplePeriod uint64 `yaml:"sample_period"`
}

// MetricsConfig configures the Prometheus exposition listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration matching spec.md §6's constants
// table and §4.5's init-time tier sizes.
func Default() *Config {
	return &Config{
		Tiers: TiersConfig{
			Fast: TierConfig{
				CapacityByte: 4 * 1024 * 1024 * 1024,
				ReadLatency:  80 * time.Nanosecond,
				WriteLatency: 100 * time.Nanosecond,
			},
			Slow: TierConfig{
				CapacityByte: 16 * 1024 * 1024 * 1024,
				ReadLatency:  300 * time.Nanosecond,
				WriteLatency: 500 * time.Nanosecond,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Policy: PolicyConfig{
			IntervalMS:            10,
			Hot:                   0.7,
			Cold:                  0.3,
			ConfidenceMin:         0.5,
			MinResidence:          100 * time.Millisecond,
			MaxMigrationsPerCycle: 10,
		},
		Sampler: SamplerConfig{
			Enabled:      true,
			SamplePeriod: 100007,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load reads YAML configuration from path, starting from Default and
// overlaying whatever the file specifies. A missing file is not an
// error: Load returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = "tierd.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values the rest of the system
// cannot safely operate with.
func (c *Config) Validate() error {
	if c.Tiers.Fast.CapacityByte == 0 {
		return fmt.Errorf("tiers.fast.capacity_bytes must be positive")
	}
	if c.Tiers.Slow.CapacityByte == 0 {
		return fmt.Errorf("tiers.slow.capacity_bytes must be positive")
	}
	if c.Policy.MaxMigrationsPerCycle < 1 {
		return fmt.Errorf("policy.max_migrations_per_cycle must be at least 1")
	}
	if c.Policy.Hot <= c.Policy.Cold {
		return fmt.Errorf("policy.hot (%v) must exceed policy.cold (%v)", c.Policy.Hot, c.Policy.Cold)
	}
	return nil
}
