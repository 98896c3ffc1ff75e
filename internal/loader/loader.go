package loader

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/meterd/internal/errors"
)

// =============================================================================
// Load
// =============================================================================

// Load loads the daemon configuration from a YAML file.
// Environment variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and enumerated values.
func (c *Config) Validate() error {
	if c.Shards <= 0 || c.Shards&(c.Shards-1) != 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "shards must be a power of two, got %d", c.Shards)
	}
	if c.FlushInterval.Duration() <= 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "flush_interval must be positive")
	}
	if c.ScalarBucket.Duration() <= 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "scalar_bucket must be positive")
	}
	switch c.Histogram.OutOfRange {
	case "", "clamp", "drop":
	default:
		return errors.Wrapf(errors.ErrInvalidConfig,
			"histogram.out_of_range must be clamp or drop, got %q", c.Histogram.OutOfRange)
	}
	if len(c.Histogram.Bins) < 2 {
		return errors.Wrap(errors.ErrInvalidConfig, "histogram.bins needs at least two boundaries")
	}
	if c.Percentiles.Enabled && (c.Percentiles.Accuracy < 0.001 || c.Percentiles.Accuracy > 0.1) {
		return errors.Wrapf(errors.ErrInvalidConfig,
			"percentiles.accuracy must be in [0.001, 0.1], got %v", c.Percentiles.Accuracy)
	}
	return nil
}

// LogLevel maps the configured level string to a slog.Level.
func (c *Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
