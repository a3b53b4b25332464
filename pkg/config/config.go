// Package config provides the configuration for the slotpool driver.
//
// The configuration is organized into logical sections:
//   - Pool: capacity, name and free-list implementation
//   - Workers: worker count, cycles, hold time and exhaustion retry policy
//   - Logging: level, encoding and outputs for pkg/logger
//   - Observability: Prometheus metrics endpoint and tracing
//   - Report: where the run report is written
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Pool.Capacity = 32
//	cfg.Workers.Count = 8
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"time"

	"github.com/ajitpratap0/slotpool/pkg/compression"
	poolerrors "github.com/ajitpratap0/slotpool/pkg/errors"
	"github.com/ajitpratap0/slotpool/pkg/logger"
	"github.com/ajitpratap0/slotpool/pkg/pool"
	"go.uber.org/zap/zapcore"
)

// Config is the complete driver configuration.
type Config struct {
	// Pool settings for the message pool
	Pool PoolConfig `yaml:"pool" mapstructure:"pool"`

	// Workers settings for the concurrent acquire/use/release loop
	Workers WorkersConfig `yaml:"workers" mapstructure:"workers"`

	// Logging settings passed to pkg/logger
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Observability settings for metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// Report output settings
	Report ReportConfig `yaml:"report" mapstructure:"report"`
}

// PoolConfig configures the slot pool.
type PoolConfig struct {
	// Name labels logs and metrics
	Name string `yaml:"name" mapstructure:"name"`
	// Capacity is the fixed number of slots
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
	// LockFree selects the CAS free-list instead of the mutex one
	LockFree bool `yaml:"lock_free" mapstructure:"lock_free"`
}

// WorkersConfig configures the driver workers.
type WorkersConfig struct {
	// Count is the number of concurrent workers
	Count int `yaml:"count" mapstructure:"count"`
	// Cycles is the number of acquire/use/release cycles per worker
	Cycles int `yaml:"cycles" mapstructure:"cycles"`
	// Hold is how long a worker keeps its slot
	Hold time.Duration `yaml:"hold" mapstructure:"hold"`
	// RetryInitial is the first backoff after exhaustion
	RetryInitial time.Duration `yaml:"retry_initial" mapstructure:"retry_initial"`
	// RetryMax caps the backoff interval
	RetryMax time.Duration `yaml:"retry_max" mapstructure:"retry_max"`
	// MaxRetries is the number of retries after an exhausted attempt (0 = skip the cycle)
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level       string   `yaml:"level" mapstructure:"level"`
	Development bool     `yaml:"development" mapstructure:"development"`
	Encoding    string   `yaml:"encoding" mapstructure:"encoding"`
	OutputPaths []string `yaml:"output_paths" mapstructure:"output_paths"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// EnableMetrics serves Prometheus metrics on MetricsAddr
	EnableMetrics bool   `yaml:"enable_metrics" mapstructure:"enable_metrics"`
	MetricsAddr   string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing exports one span per worker cycle to stdout
	EnableTracing     bool    `yaml:"enable_tracing" mapstructure:"enable_tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
}

// ReportConfig configures the run report.
type ReportConfig struct {
	// Path of the JSON report; empty disables writing it
	Path string `yaml:"path" mapstructure:"path"`
	// Compression overrides the algorithm implied by the file extension
	Compression string `yaml:"compression" mapstructure:"compression"`
}

// Default returns the configuration of the reference run: ten slots, three
// workers, five cycles each, holding a slot for 50ms.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Name:     "messages",
			Capacity: 10,
		},
		Workers: WorkersConfig{
			Count:        3,
			Cycles:       5,
			Hold:         50 * time.Millisecond,
			RetryInitial: 20 * time.Millisecond,
			RetryMax:     time.Second,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Encoding:    "console",
			OutputPaths: []string{"stdout"},
		},
		Observability: ObservabilityConfig{
			MetricsAddr:       ":9090",
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks the configuration and returns a config error describing
// the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Pool.Capacity <= 0 || c.Pool.Capacity > pool.MaxCapacity:
		return invalid("pool.capacity", c.Pool.Capacity, "must be between 1 and the pool maximum")
	case c.Workers.Count <= 0:
		return invalid("workers.count", c.Workers.Count, "must be positive")
	case c.Workers.Cycles < 0:
		return invalid("workers.cycles", c.Workers.Cycles, "must not be negative")
	case c.Workers.Hold < 0:
		return invalid("workers.hold", c.Workers.Hold, "must not be negative")
	case c.Workers.RetryInitial <= 0:
		return invalid("workers.retry_initial", c.Workers.RetryInitial, "must be positive")
	case c.Workers.RetryMax < c.Workers.RetryInitial:
		return invalid("workers.retry_max", c.Workers.RetryMax, "must not be below retry_initial")
	case c.Workers.MaxRetries < 0:
		return invalid("workers.max_retries", c.Workers.MaxRetries, "must not be negative")
	case c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1:
		return invalid("observability.tracing_sample_rate", c.Observability.TracingSampleRate, "must be within [0, 1]")
	case c.Observability.EnableMetrics && c.Observability.MetricsAddr == "":
		return invalid("observability.metrics_addr", c.Observability.MetricsAddr, "required when metrics are enabled")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", c.Logging.Level, err.Error())
	}
	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		return invalid("logging.encoding", c.Logging.Encoding, "must be json or console")
	}
	if _, err := compression.Parse(c.Report.Compression); err != nil {
		return invalid("report.compression", c.Report.Compression, err.Error())
	}
	return nil
}

// Logger converts the logging section into a pkg/logger configuration.
func (c LoggingConfig) Logger() logger.Config {
	return logger.Config{
		Level:       c.Level,
		Development: c.Development,
		Encoding:    c.Encoding,
		OutputPaths: c.OutputPaths,
	}
}

// ReportCompression returns the configured report algorithm, falling back
// to the one implied by the report path.
func (c ReportConfig) ReportCompression() compression.Algorithm {
	if c.Compression != "" {
		if algo, err := compression.Parse(c.Compression); err == nil {
			return algo
		}
	}
	return compression.ForPath(c.Path)
}

func invalid(field string, value interface{}, reason string) error {
	return poolerrors.Newf(poolerrors.ErrorTypeConfig, "invalid %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value)
}
