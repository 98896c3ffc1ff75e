// Package loader handles configuration and schema document loading.
//
// Two YAML surfaces are consumed here:
//   - the daemon config (config.yaml): storage paths, flush cadence,
//     histogram defaults
//   - schema documents: one per target, declaring its metrics, versions,
//     and field dictionary (see schema.go)
package loader

import (
	"time"

	"github.com/xtxerr/meterd/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for meterd.
type Config struct {
	// DataDir is the root directory for measurement Parquet files.
	// Default: "/var/lib/meterd/measurements"
	DataDir string `yaml:"data_dir"`

	// SchemaDir is the directory of schema documents loaded at startup.
	// Every *.yaml file in it is registered.
	SchemaDir string `yaml:"schema_dir"`

	// FlushInterval is how often aggregation state is snapshotted to the
	// measurement store.
	// Default: 30s
	FlushInterval Duration `yaml:"flush_interval"`

	// ScalarBucket is the aggregation interval for scalar series.
	// Default: 5m
	ScalarBucket Duration `yaml:"scalar_bucket"`

	// Shards is the number of histogram shards (power of two).
	// Default: 16
	Shards int `yaml:"shards"`

	// Compression is the Parquet compression algorithm
	// (zstd, snappy, lz4, gzip, none).
	// Default: zstd
	Compression string `yaml:"compression"`

	// Metastore is the schema database configuration.
	Metastore MetastoreConfig `yaml:"metastore"`

	// Histogram configures the histogram engine.
	Histogram HistogramConfig `yaml:"histogram"`

	// Percentiles configures DDSketch percentiles for scalar series.
	Percentiles PercentilesConfig `yaml:"percentiles"`

	// Logging configures output level and format.
	Logging LoggingConfig `yaml:"logging"`
}

// MetastoreConfig configures the schema database (DuckDB).
type MetastoreConfig struct {
	// Path is the database file path.
	// Special value ":memory:" for in-memory (testing only).
	// Default: "meterd.db"
	Path string `yaml:"path"`
}

// HistogramConfig configures the histogram engine.
type HistogramConfig struct {
	// Bins is the default bucket-boundary sequence.
	Bins []float64 `yaml:"bins"`

	// MetricBins overrides bins per "target:metric" series name.
	MetricBins map[string][]float64 `yaml:"metric_bins"`

	// OutOfRange selects the out-of-range sample policy: "clamp" or "drop".
	// Default: clamp
	OutOfRange string `yaml:"out_of_range"`
}

// PercentilesConfig configures DDSketch percentile calculation for
// scalar series.
type PercentilesConfig struct {
	// Enabled enables percentile calculation.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	// Range: 0.001-0.1, Default: 0.01
	Accuracy float64 `yaml:"accuracy"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	// Default: info
	Level string `yaml:"level"`

	// JSON switches output from text to JSON.
	// Default: false
	JSON bool `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:       config.DefaultDataDir,
		FlushInterval: Duration(config.DefaultFlushInterval),
		ScalarBucket:  Duration(config.DefaultScalarBucket),
		Shards:        config.DefaultShards,
		Compression:   config.DefaultCompression,

		Metastore: MetastoreConfig{
			Path: config.DefaultMetastorePath,
		},

		Histogram: HistogramConfig{
			Bins:       append([]float64(nil), config.DefaultBins...),
			OutOfRange: config.DefaultOutOfRangePolicy,
		},

		Percentiles: PercentilesConfig{
			Enabled:  true,
			Accuracy: config.DefaultSketchAccuracy,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
