// Package config defines configuration for the trading engine server.
// Config is loaded from a YAML file with sensitive/deployment-specific
// fields overridable via CURVEPOST_* environment variables, the same
// viper-based pattern the teacher bot used.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapped directly from the YAML
// file structure.
type Config struct {
	InitialBalance float64       `mapstructure:"initial_balance"`
	Server         ServerConfig  `mapstructure:"server"`
	Store          StoreConfig   `mapstructure:"store"`
	Logging        LoggingConfig `mapstructure:"logging"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig controls the HTTP/WebSocket listener sessions connect to.
type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig controls the optional crash-safe JSON snapshot store
// (internal/store). Disabled by default, since the core contract treats
// state as in-memory (spec.md §1).
type StoreConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DataDir          string        `mapstructure:"data_dir"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// LoggingConfig selects the log/slog handler and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads config from a YAML file with CURVEPOST_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CURVEPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("initial_balance", 1000.0)
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.snapshot_interval", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.listen_addr", ":9090")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be > 0")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Store.Enabled && c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required when store.enabled is true")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}
