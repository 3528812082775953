// Package config provides simulator configuration loaded from an optional
// YAML file and overridden by CLI flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/pathsim/pkg/stream"
)

// Config holds the tunable constants that govern guard selection, circuit
// lifetime, and stream-to-port bookkeeping.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Guard   GuardConfig   `yaml:"guard"`
	Circuit CircuitConfig `yaml:"circuit"`
	Run     RunConfig     `yaml:"run"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GuardConfig controls guard-list size and lifetime.
type GuardConfig struct {
	NumGuards     int           `yaml:"num_guards"`
	MinNumGuards  int           `yaml:"min_num_guards"`
	ExpirationMin time.Duration `yaml:"expiration_min"`
	ExpirationMax time.Duration `yaml:"expiration_max"`
	DownTime      time.Duration `yaml:"down_time"`
}

// CircuitConfig controls circuit and port-need bookkeeping.
type CircuitConfig struct {
	DirtyLifetime    time.Duration `yaml:"dirty_lifetime"`
	PortNeedLifetime time.Duration `yaml:"port_need_lifetime"`
	LongLivedPorts   []int         `yaml:"long_lived_ports"`
	TimeStep         time.Duration `yaml:"time_step"`
}

// RunConfig controls the top-level run parameters. NumClients is the
// number of independent client states sharing one stream list.
type RunConfig struct {
	NumClients int   `yaml:"num_clients"`
	Seed       int64 `yaml:"seed"`
}

// DefaultConfig returns the simulator's built-in defaults, matching the
// constants a stock Tor client uses.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Guard: GuardConfig{
			NumGuards:     3,
			MinNumGuards:  2,
			ExpirationMin: 30 * 24 * time.Hour,
			ExpirationMax: 60 * 24 * time.Hour,
			DownTime:      30 * 24 * time.Hour,
		},
		Circuit: CircuitConfig{
			DirtyLifetime:    10 * time.Minute,
			PortNeedLifetime: time.Hour,
			LongLivedPorts:   append([]int(nil), stream.LongLivedPorts...),
			TimeStep:         60 * time.Second,
		},
		Run: RunConfig{
			NumClients: 1,
			Seed:       0,
		},
	}
}

// Load reads a YAML config file, falling back to DefaultConfig if path is
// empty or the file does not exist. The defaults are decoded into first, so
// a partial file only overrides the fields it sets.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Guard.NumGuards <= 0 {
		return fmt.Errorf("guard.num_guards must be positive")
	}
	if c.Guard.MinNumGuards <= 0 || c.Guard.MinNumGuards > c.Guard.NumGuards {
		return fmt.Errorf("guard.min_num_guards must be in (0, num_guards]")
	}
	if c.Guard.ExpirationMin <= 0 || c.Guard.ExpirationMax < c.Guard.ExpirationMin {
		return fmt.Errorf("guard.expiration_min/max must be positive and ordered")
	}
	if c.Circuit.TimeStep <= 0 {
		return fmt.Errorf("circuit.time_step must be positive")
	}
	if c.Run.NumClients <= 0 {
		return fmt.Errorf("run.num_clients must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Circuit.LongLivedPorts = append([]int{}, c.Circuit.LongLivedPorts...)
	return &clone
}

// LongLivedPortSet returns the configured long-lived ports as a lookup set.
func (c *Config) LongLivedPortSet() map[int]bool {
	set := make(map[int]bool, len(c.Circuit.LongLivedPorts))
	for _, p := range c.Circuit.LongLivedPorts {
		set[p] = true
	}
	return set
}
