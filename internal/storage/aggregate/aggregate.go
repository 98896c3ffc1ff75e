// Package aggregate maintains interval statistics for scalar and
// cumulative-counter timeseries.
//
// Histogram-valued metrics have their own engine (internal/histogram);
// this package covers everything else: per-interval count/sum/min/max
// plus sketch-derived percentiles, one aggregate per timeseries key.
package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/xtxerr/meterd/internal/storage/types"
)

// ScalarAggregate maintains running statistics for a single timeseries
// over one interval. Percentiles are tracked with a DDSketch when enabled.
type ScalarAggregate struct {
	mu sync.Mutex

	// Identity
	name string
	key  uint64

	// Interval (nanoseconds)
	bucketStartNs int64
	bucketEndNs   int64

	// Running statistics
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs int64
	lastTs  int64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// New creates a scalar aggregate for the given timeseries and interval.
// accuracy is the sketch's relative accuracy; pass 0 to disable sketches.
func New(name string, key uint64, bucketStartNs, bucketEndNs int64, accuracy float64) *ScalarAggregate {
	agg := &ScalarAggregate{
		name:          name,
		key:           key,
		bucketStartNs: bucketStartNs,
		bucketEndNs:   bucketEndNs,
		min:           math.MaxFloat64,
		max:           -math.MaxFloat64,
	}

	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			agg.sketch = sketch
		}
	}

	return agg
}

// Add adds a value to the aggregate.
func (a *ScalarAggregate) Add(value float64, timestampNs int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.firstTs == 0 || timestampNs < a.firstTs {
		a.firstTs = timestampNs
	}
	if timestampNs > a.lastTs {
		a.lastTs = timestampNs
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// Count returns the number of samples added.
func (a *ScalarAggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// IsEmpty returns true if no samples have been added.
func (a *ScalarAggregate) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count == 0
}

// Row returns the aggregation result as a store row.
func (a *ScalarAggregate) Row() types.ScalarRow {
	a.mu.Lock()
	defer a.mu.Unlock()

	row := types.ScalarRow{
		TimeseriesName: a.name,
		TimeseriesKey:  a.key,
		BucketStartNs:  a.bucketStartNs,
		BucketEndNs:    a.bucketEndNs,
		Count:          a.count,
		Sum:            a.sum,
		FirstTsNs:      a.firstTs,
		LastTsNs:       a.lastTs,
	}

	if a.count > 0 {
		row.Avg = a.sum / float64(a.count)
		row.Min = a.min
		row.Max = a.max
	}

	if a.sketch != nil && a.count > 0 {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		row.SetPercentiles(p50, p90, p99)
	}

	return row
}

// Reset resets the aggregate for a new interval.
func (a *ScalarAggregate) Reset(bucketStartNs, bucketEndNs int64, accuracy float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bucketStartNs = bucketStartNs
	a.bucketEndNs = bucketEndNs
	a.count = 0
	a.sum = 0
	a.min = math.MaxFloat64
	a.max = -math.MaxFloat64
	a.firstTs = 0
	a.lastTs = 0

	if a.sketch != nil && accuracy > 0 {
		// DDSketch has no Clear; start a fresh sketch.
		newSketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			a.sketch = newSketch
		}
	}
}

// Merge combines another aggregate into this one.
// Both aggregates must cover the same interval.
func (a *ScalarAggregate) Merge(other *ScalarAggregate) {
	if other == nil || other.Count() == 0 {
		return
	}

	a.mu.Lock()
	other.mu.Lock()
	defer a.mu.Unlock()
	defer other.mu.Unlock()

	a.count += other.count
	a.sum += other.sum

	if other.min < a.min {
		a.min = other.min
	}
	if other.max > a.max {
		a.max = other.max
	}

	if a.firstTs == 0 || (other.firstTs != 0 && other.firstTs < a.firstTs) {
		a.firstTs = other.firstTs
	}
	if other.lastTs > a.lastTs {
		a.lastTs = other.lastTs
	}

	if a.sketch != nil && other.sketch != nil {
		a.sketch.MergeWith(other.sketch)
	}
}

// BucketStartNs returns the interval start timestamp.
func (a *ScalarAggregate) BucketStartNs() int64 {
	return a.bucketStartNs
}

// BucketDuration returns the interval length.
func (a *ScalarAggregate) BucketDuration() time.Duration {
	return time.Duration(a.bucketEndNs - a.bucketStartNs)
}
