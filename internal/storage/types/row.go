package types

import (
	"time"

	"github.com/xtxerr/meterd/internal/quantile"
)

// HistogramRow is one cumulative snapshot of a histogram timeseries,
// emitted per (timeseries, reporting interval). Bins holds the sorted
// bucket boundaries; Counts is parallel with one entry per bucket, so
// len(Counts) == len(Bins)-1. The three marker states carry the full
// P² estimator state for p50/p90/p99, sufficient to resume estimation
// from the row alone.
type HistogramRow struct {
	// Identity
	TimeseriesName string
	TimeseriesKey  uint64

	// Window (nanosecond precision)
	StartTimeNs int64
	TimestampNs int64

	// Distribution
	Bins   []float64
	Counts []uint64

	// Running statistics
	Min          float64
	Max          float64
	SumOfSamples float64
	SquaredMean  float64

	// Overflow is set when SumOfSamples saturated; aggregation continued
	// with the saturated value.
	Overflow bool

	// Clamped counts samples folded into an edge bucket because they fell
	// outside the histogram support.
	Clamped uint64

	// Quantile marker states
	P50 quantile.State
	P90 quantile.State
	P99 quantile.State
}

// SampleCount returns the total number of bucketed samples.
func (r *HistogramRow) SampleCount() uint64 {
	var n uint64
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// StartTime returns the window start as a time.Time.
func (r *HistogramRow) StartTime() time.Time {
	return time.Unix(0, r.StartTimeNs)
}

// Timestamp returns the snapshot time as a time.Time.
func (r *HistogramRow) Timestamp() time.Time {
	return time.Unix(0, r.TimestampNs)
}

// ScalarRow is one aggregated interval of a scalar or cumulative-counter
// timeseries. Percentiles are sketch-derived and nil when disabled.
type ScalarRow struct {
	// Identity
	TimeseriesName string
	TimeseriesKey  uint64

	// Interval (nanosecond precision)
	BucketStartNs int64
	BucketEndNs   int64

	// Basic statistics
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64

	// Percentiles (nil if sketches disabled)
	P50 *float64
	P90 *float64
	P99 *float64

	// Timestamps of actual samples
	FirstTsNs int64
	LastTsNs  int64
}

// IsEmpty returns true if no samples were aggregated.
func (r *ScalarRow) IsEmpty() bool {
	return r.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (r *ScalarRow) HasPercentiles() bool {
	return r.P50 != nil
}

// SetPercentiles sets all percentile values.
func (r *ScalarRow) SetPercentiles(p50, p90, p99 float64) {
	r.P50 = &p50
	r.P90 = &p90
	r.P99 = &p99
}
