// Package histogram implements the streaming histogram engine for
// histogram-valued metrics.
//
// An Aggregator owns a fixed bucket-boundary sequence, parallel bucket
// counts, running min/max/sum/mean-of-squares, and one P² quantile
// estimator for each of p50, p90 and p99. All state is cumulative since
// the aggregator's start time; Row produces snapshots without resetting,
// matching the append-only semantics of the measurement store.
//
// Aggregators are single-threaded state machines. Concurrency is handled
// at the boundary: callers own one aggregator per timeseries key and
// never share it across goroutines.
package histogram

import (
	"fmt"
	"math"
	"sort"

	"github.com/xtxerr/meterd/internal/errors"
	"github.com/xtxerr/meterd/internal/quantile"
	"github.com/xtxerr/meterd/internal/storage/types"
)

// Policy selects what happens to samples outside the histogram support.
type Policy int

const (
	// PolicyClamp folds out-of-range samples into the nearest edge bucket
	// and counts the event; the default.
	PolicyClamp Policy = iota
	// PolicyDrop rejects out-of-range samples with ErrOutOfRange.
	PolicyDrop
)

// ParsePolicy maps a config string to a Policy. Unrecognized values
// fall back to clamping.
func ParsePolicy(s string) Policy {
	if s == "drop" {
		return PolicyDrop
	}
	return PolicyClamp
}

// Quantiles tracked by every histogram aggregator.
var trackedQuantiles = [3]float64{0.50, 0.90, 0.99}

// Aggregator accumulates one histogram timeseries.
type Aggregator struct {
	bins   []float64
	counts []uint64
	policy Policy

	count    uint64
	min      float64
	max      float64
	sum      float64
	sqMean   float64
	overflow bool
	clamped  uint64

	startNs    int64
	estimators [3]*quantile.Estimator
}

// New creates an aggregator over the given bucket boundaries. Bins must
// hold at least two strictly increasing values; bucket i covers
// [bins[i], bins[i+1]). startNs stamps the window start on emitted rows.
func New(bins []float64, policy Policy, startNs int64) (*Aggregator, error) {
	if len(bins) < 2 {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "histogram needs at least two bin boundaries")
	}
	for i := 1; i < len(bins); i++ {
		if !(bins[i-1] < bins[i]) {
			return nil, errors.Wrapf(errors.ErrInvalidConfig,
				"bin boundaries must increase strictly: bins[%d]=%v, bins[%d]=%v",
				i-1, bins[i-1], i, bins[i])
		}
	}

	a := &Aggregator{
		bins:    append([]float64(nil), bins...),
		counts:  make([]uint64, len(bins)-1),
		policy:  policy,
		min:     math.Inf(1),
		max:     math.Inf(-1),
		startNs: startNs,
	}
	for i, q := range trackedQuantiles {
		e, err := quantile.New(q)
		if err != nil {
			return nil, err
		}
		a.estimators[i] = e
	}
	return a, nil
}

// Observe folds one sample into the histogram. Under PolicyDrop an
// out-of-range sample returns ErrOutOfRange and leaves all state
// untouched; under PolicyClamp it lands in the nearest edge bucket and
// the clamp counter advances.
func (a *Aggregator) Observe(x float64) error {
	// NaN has no bucket (it compares false against every boundary) and an
	// infinity would defeat the sum saturation, so non-finite samples are
	// rejected under both policies.
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("non-finite sample %v: %w", x, errors.ErrOutOfRange)
	}

	bucket, ok := a.locate(x)
	if !ok {
		if a.policy == PolicyDrop {
			return fmt.Errorf("sample %v outside [%v, %v): %w",
				x, a.bins[0], a.bins[len(a.bins)-1], errors.ErrOutOfRange)
		}
		a.clamped++
		if x < a.bins[0] {
			bucket = 0
		} else {
			bucket = len(a.counts) - 1
		}
	}

	a.counts[bucket]++
	a.count++

	if x < a.min {
		a.min = x
	}
	if x > a.max {
		a.max = x
	}

	// Widened accumulator with saturation: an overflowing sum pins at
	// the largest finite value and sets the overflow flag rather than
	// propagating infinity.
	sum := a.sum + x
	if math.IsInf(sum, 0) {
		sum = math.Copysign(math.MaxFloat64, sum)
		a.overflow = true
	}
	a.sum = sum

	// Incremental mean of squares (Welford-style); avoids the
	// cancellation of a naive running sum of squares.
	a.sqMean += (x*x - a.sqMean) / float64(a.count)

	for _, e := range a.estimators {
		e.Observe(x)
	}
	return nil
}

// locate finds the bucket index for x, or ok=false when x falls outside
// [bins[0], bins[last]).
func (a *Aggregator) locate(x float64) (int, bool) {
	if x < a.bins[0] || x >= a.bins[len(a.bins)-1] {
		return 0, false
	}
	// Smallest i with bins[i] >= x; x on a boundary opens that bucket.
	i := sort.SearchFloat64s(a.bins, x)
	if a.bins[i] == x {
		return i, true
	}
	return i - 1, true
}

// =============================================================================
// Accessors
// =============================================================================

// Count returns the number of bucketed samples.
func (a *Aggregator) Count() uint64 { return a.count }

// Min returns the smallest observed sample, or 0 before any sample.
func (a *Aggregator) Min() float64 {
	if a.count == 0 {
		return 0
	}
	return a.min
}

// Max returns the largest observed sample, or 0 before any sample.
func (a *Aggregator) Max() float64 {
	if a.count == 0 {
		return 0
	}
	return a.max
}

// Sum returns the (possibly saturated) running sum of samples.
func (a *Aggregator) Sum() float64 { return a.sum }

// SquaredMean returns the running mean of squared samples.
func (a *Aggregator) SquaredMean() float64 { return a.sqMean }

// Clamped returns how many samples were folded into an edge bucket.
func (a *Aggregator) Clamped() uint64 { return a.clamped }

// Overflowed reports whether the running sum has saturated.
func (a *Aggregator) Overflowed() bool { return a.overflow }

// Counts returns a copy of the per-bucket counts.
func (a *Aggregator) Counts() []uint64 {
	return append([]uint64(nil), a.counts...)
}

// Bins returns a copy of the bucket boundaries.
func (a *Aggregator) Bins() []float64 {
	return append([]float64(nil), a.bins...)
}

// Estimate returns the approximate value at one of the tracked quantiles
// (0.50, 0.90, 0.99). The second return is false until five samples have
// been observed.
func (a *Aggregator) Estimate(q float64) (float64, bool) {
	for i, tq := range trackedQuantiles {
		if tq == q {
			return a.estimators[i].Estimate()
		}
	}
	return 0, false
}

// =============================================================================
// Rows
// =============================================================================

// Row snapshots the aggregator into an immutable store row. Pure: the
// aggregator keeps accumulating and Row may be called at every flush
// interval; each row is cumulative since the aggregator's start time.
func (a *Aggregator) Row(name string, key uint64, timestampNs int64) types.HistogramRow {
	row := types.HistogramRow{
		TimeseriesName: name,
		TimeseriesKey:  key,
		StartTimeNs:    a.startNs,
		TimestampNs:    timestampNs,
		Bins:           a.Bins(),
		Counts:         a.Counts(),
		Min:            a.Min(),
		Max:            a.Max(),
		SumOfSamples:   a.sum,
		SquaredMean:    a.sqMean,
		Overflow:       a.overflow,
		Clamped:        a.clamped,
	}
	if s, ok := a.estimators[0].State(); ok {
		row.P50 = s
	}
	if s, ok := a.estimators[1].State(); ok {
		row.P90 = s
	}
	if s, ok := a.estimators[2].State(); ok {
		row.P99 = s
	}
	return row
}

// FromRow reconstructs a live aggregator from a row snapshot, resuming
// exactly where the snapshotted aggregator left off. Rows with one to
// four samples cannot be resumed: the P² seed buffer is not part of the
// row format.
func FromRow(r types.HistogramRow, policy Policy) (*Aggregator, error) {
	a, err := New(r.Bins, policy, r.StartTimeNs)
	if err != nil {
		return nil, err
	}

	n := r.SampleCount()
	if n == 0 {
		return a, nil
	}
	if n < 5 {
		return nil, errors.Wrapf(errors.ErrInvalidConfig,
			"cannot resume histogram with %d samples: quantile markers not yet initialized", n)
	}

	if len(r.Counts) != len(a.counts) {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "row counts do not parallel bins")
	}
	copy(a.counts, r.Counts)
	a.count = n
	a.min = r.Min
	a.max = r.Max
	a.sum = r.SumOfSamples
	a.sqMean = r.SquaredMean
	a.overflow = r.Overflow
	a.clamped = r.Clamped

	states := [3]quantile.State{r.P50, r.P90, r.P99}
	for i, q := range trackedQuantiles {
		e, err := quantile.Restore(q, states[i])
		if err != nil {
			return nil, err
		}
		a.estimators[i] = e
	}
	return a, nil
}
