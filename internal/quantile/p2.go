// Package quantile implements the P-squared (P²) algorithm for streaming
// quantile estimation.
//
// One Estimator tracks a single quantile q over an unbounded sample stream
// in constant memory: five marker heights (estimated values at five rank
// positions), five integer marker positions, and five real-valued desired
// positions advanced by fixed per-sample increments. No samples are stored
// beyond the initial five-element seed.
//
// Reference: Jain & Chlamtac, "The P² algorithm for dynamic calculation of
// quantiles and histograms without storing observations", CACM 28(10), 1985.
package quantile

import (
	"fmt"
	"math"
	"sort"
)

const markers = 5

// Estimator tracks one approximate quantile over a sample stream.
// Not safe for concurrent use; callers own one estimator per series.
type Estimator struct {
	quantile float64

	// Seed buffer for the first five samples. Cleared on initialization.
	seed []float64

	heights    [markers]float64
	positions  [markers]int64
	desired    [markers]float64
	increments [markers]float64

	count uint64
}

// State is the serializable snapshot of an initialized estimator.
// The snapshot is sufficient to resume: positions[4] equals the total
// sample count, so no separate counter is persisted.
type State struct {
	Heights   [markers]float64
	Positions [markers]uint64
	Desired   [markers]float64
}

// New creates an estimator for quantile q, which must lie strictly
// between 0 and 1.
func New(q float64) (*Estimator, error) {
	if math.IsNaN(q) || q <= 0 || q >= 1 {
		return nil, fmt.Errorf("quantile must be in (0, 1), got %v", q)
	}
	e := &Estimator{
		quantile: q,
		seed:     make([]float64, 0, markers),
	}
	e.increments = [markers]float64{0, q / 2, q, (1 + q) / 2, 1}
	return e, nil
}

// Quantile returns the tracked quantile.
func (e *Estimator) Quantile() float64 {
	return e.quantile
}

// Count returns the number of samples observed so far.
func (e *Estimator) Count() uint64 {
	return e.count
}

// Observe folds one sample into the estimator. Non-finite samples are
// ignored: a NaN or infinity in the marker heights would corrupt every
// later parabolic adjustment.
func (e *Estimator) Observe(x float64) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return
	}
	e.count++

	// Seed phase: buffer until the fifth sample, then initialize markers
	// from the sorted seed.
	if e.count <= markers {
		e.seed = append(e.seed, x)
		if e.count == markers {
			e.initialize()
		}
		return
	}

	// Locate the bracket k with heights[k] <= x < heights[k+1], extending
	// the extreme markers when x falls outside the current support. Ties
	// resolve to the first bracket so equal-valued runs cannot
	// desynchronize the positions.
	var k int
	switch {
	case x < e.heights[0]:
		e.heights[0] = x
		k = 0
	case x >= e.heights[markers-1]:
		e.heights[markers-1] = x
		k = markers - 2
	default:
		for k = 0; k < markers-2; k++ {
			if x < e.heights[k+1] {
				break
			}
		}
	}

	for j := k + 1; j < markers; j++ {
		e.positions[j]++
	}
	for j := 0; j < markers; j++ {
		e.desired[j] += e.increments[j]
	}

	// Adjust interior markers toward their desired positions.
	for i := 1; i < markers-1; i++ {
		d := e.desired[i] - float64(e.positions[i])

		if (d >= 1 && e.positions[i+1]-e.positions[i] > 1) ||
			(d <= -1 && e.positions[i-1]-e.positions[i] < -1) {
			sign := int64(1)
			if d < 0 {
				sign = -1
			}

			h := e.parabolic(i, float64(sign))
			if e.heights[i-1] < h && h < e.heights[i+1] {
				e.heights[i] = h
			} else {
				e.heights[i] = e.linear(i, sign)
			}
			e.positions[i] += sign
		}
	}
}

// initialize seeds the markers from the first five samples.
func (e *Estimator) initialize() {
	sort.Float64s(e.seed)
	copy(e.heights[:], e.seed)
	e.seed = nil

	q := e.quantile
	e.positions = [markers]int64{1, 2, 3, 4, 5}
	e.desired = [markers]float64{1, 1 + 2*q, 1 + 4*q, 3 + 2*q, 5}
}

// parabolic computes the P² piecewise-parabolic prediction for marker i
// displaced by d (which is ±1).
func (e *Estimator) parabolic(i int, d float64) float64 {
	hp := float64(e.positions[i+1])
	hm := float64(e.positions[i-1])
	h0 := float64(e.positions[i])

	above := (h0 - hm + d) * (e.heights[i+1] - e.heights[i]) / (hp - h0)
	below := (hp - h0 - d) * (e.heights[i] - e.heights[i-1]) / (h0 - hm)
	return e.heights[i] + d/(hp-hm)*(above+below)
}

// linear interpolates marker i one step toward its neighbor in the
// direction of sign; used when the parabolic prediction would violate
// marker ordering.
func (e *Estimator) linear(i int, sign int64) float64 {
	j := i + int(sign)
	return e.heights[i] + float64(sign)*
		(e.heights[j]-e.heights[i])/float64(e.positions[j]-e.positions[i])
}

// Estimate returns the current quantile estimate. The second return is
// false until five samples have been observed; the estimator never
// interpolates from a partial seed.
func (e *Estimator) Estimate() (float64, bool) {
	if e.count < markers {
		return 0, false
	}
	return e.heights[2], true
}

// =============================================================================
// Snapshot / Restore
// =============================================================================

// State returns the marker snapshot. The second return is false until the
// estimator is initialized (fewer than five samples observed).
func (e *Estimator) State() (State, bool) {
	if e.count < markers {
		return State{}, false
	}
	var s State
	s.Heights = e.heights
	s.Desired = e.desired
	for i, p := range e.positions {
		s.Positions[i] = uint64(p)
	}
	return s, true
}

// Restore reconstructs an initialized estimator for quantile q from a
// snapshot. Observing further samples continues exactly where the
// snapshotted estimator left off.
func Restore(q float64, s State) (*Estimator, error) {
	e, err := New(q)
	if err != nil {
		return nil, err
	}
	e.seed = nil
	e.heights = s.Heights
	e.desired = s.Desired
	for i, p := range s.Positions {
		e.positions[i] = int64(p)
	}
	// positions[4] counts samples at or below the maximum marker,
	// which is every sample seen.
	e.count = s.Positions[markers-1]
	return e, nil
}
