// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Journal   JournalConfig   `yaml:"journal"`
	Graph     GraphConfig     `yaml:"graph"`
	Scan      ScanConfig      `yaml:"scan"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig covers the HTTP listeners
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig covers the findings store. Path is the directory
// holding the database file.
type StorageConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// JournalConfig covers the execution journal
type JournalConfig struct {
	Dir string `yaml:"dir"`
}

// GraphConfig bounds resource graph queries
type GraphConfig struct {
	BatchLimit     int         `yaml:"batch_limit"`
	PageSize       int         `yaml:"page_size"`
	MaxConcurrency int64       `yaml:"max_concurrency"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig bounds per-page retries
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// ScanConfig drives the background detection loop
type ScanConfig struct {
	Interval time.Duration `yaml:"interval"`
	DryRun   bool          `yaml:"dry_run"`
	Modules  []string      `yaml:"modules"`
}

// TelemetryConfig covers OTLP export
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// LogConfig covers structured log output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Path:          "data",
			RetentionDays: 365,
		},
		Journal: JournalConfig{
			Dir: "journal",
		},
		Graph: GraphConfig{
			BatchLimit:     1000,
			PageSize:       1000,
			MaxConcurrency: 4,
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    8 * time.Second,
				Jitter:      0.5,
			},
		},
		Scan: ScanConfig{
			Interval: time.Hour,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "cloudtrim",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate ensures config values make sense
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days must not be negative")
	}
	if c.Graph.BatchLimit <= 0 {
		return fmt.Errorf("graph.batch_limit must be positive")
	}
	if c.Graph.PageSize <= 0 {
		return fmt.Errorf("graph.page_size must be positive")
	}
	if c.Graph.MaxConcurrency <= 0 {
		return fmt.Errorf("graph.max_concurrency must be positive")
	}
	if c.Graph.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("graph.retry.max_attempts must be positive")
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("scan.interval must be positive")
	}
	return nil
}
