// Package config loads and validates the application configuration:
// storage, catalog paths, sweep cadence, server addresses, and
// telemetry. Configuration is YAML over built-in defaults, so an
// empty file is a valid configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flowplane/flowplane/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from Go duration
// strings ("30s", "5m") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like 30s: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full application configuration.
type Config struct {
	// Store configures the SQLite persistence layer.
	Store StoreConfig `yaml:"store"`

	// Catalog configures workflow definition loading.
	Catalog CatalogConfig `yaml:"catalog"`

	// Sweep configures the SLA sweep worker.
	Sweep SweepConfig `yaml:"sweep"`

	// Server configures the HTTP surface (health, metrics).
	Server ServerConfig `yaml:"server"`

	// Telemetry configures logging, tracing, metrics, and events.
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" validate:"required"`
}

// CatalogConfig configures definition loading.
type CatalogConfig struct {
	// Paths are files or directories holding workflow definitions.
	Paths []string `yaml:"paths" validate:"required,min=1"`

	// Watch reloads definitions when the files change.
	Watch bool `yaml:"watch"`
}

// SweepConfig configures the SLA sweep worker.
type SweepConfig struct {
	// Enabled turns the background sweeper on.
	Enabled bool `yaml:"enabled"`

	// Interval is the delay between sweep passes.
	Interval Duration `yaml:"interval" validate:"min=0"`

	// BatchSize caps the timers processed per pass.
	BatchSize int `yaml:"batch_size" validate:"min=0"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// HealthAddr is the listen address for the health endpoint.
	HealthAddr string `yaml:"health_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "flowplane.db",
		},
		Catalog: CatalogConfig{
			Paths: []string{"workflows"},
			Watch: false,
		},
		Sweep: SweepConfig{
			Enabled:   true,
			Interval:  Duration(30 * time.Second),
			BatchSize: 100,
		},
		Server: ServerConfig{
			HealthAddr: ":8080",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks structural constraints and the embedded telemetry
// configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultConfig()
	}
	return c.Telemetry.Validate()
}
