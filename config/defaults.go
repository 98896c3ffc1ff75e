// Package config provides configuration defaults for the meterd daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory for measurement files.
	// Override via config: data_dir
	DefaultDataDir = "/var/lib/meterd/measurements"

	// DefaultMetastorePath is the schema database path.
	// Override via config: metastore.path
	DefaultMetastorePath = "meterd.db"

	// DefaultCompression is the Parquet compression algorithm.
	// Override via config: compression
	DefaultCompression = "zstd"
)

// =============================================================================
// Aggregation Defaults
// =============================================================================

const (
	// DefaultFlushInterval is how often aggregation state is snapshotted
	// to the measurement store.
	// Override via config: flush_interval
	DefaultFlushInterval = 30 * time.Second

	// DefaultScalarBucket is the aggregation interval for scalar series.
	// Override via config: scalar_bucket
	DefaultScalarBucket = 5 * time.Minute

	// DefaultShards is the number of histogram shards. Must be a power
	// of two; shards bound lock contention across timeseries keys.
	// Override via config: shards
	DefaultShards = 16

	// DefaultSketchAccuracy is the DDSketch relative accuracy used for
	// scalar percentiles (0.01 = 1% error).
	// Override via config: percentiles.accuracy
	DefaultSketchAccuracy = 0.01

	// DefaultOutOfRangePolicy selects what happens to histogram samples
	// outside the configured bins: "clamp" folds them into the nearest
	// edge bucket and counts the event; "drop" rejects them.
	// Override via config: histogram.out_of_range
	DefaultOutOfRangePolicy = "clamp"
)

// DefaultBins is the bucket-boundary sequence for histogram metrics
// without an explicit per-metric override.
// Override via config: histogram.bins
var DefaultBins = []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000}
