package histogram

import (
	"math"
	"sync"
	"testing"

	apperrors "github.com/xtxerr/meterd/internal/errors"
)

func TestNew_RejectsBadBins(t *testing.T) {
	cases := [][]float64{
		nil,
		{1},
		{1, 1},
		{1, 2, 2},
		{5, 2},
	}
	for _, bins := range cases {
		if _, err := New(bins, PolicyClamp, 0); !apperrors.Is(err, apperrors.ErrInvalidConfig) {
			t.Errorf("New(%v) should fail with ErrInvalidConfig, got %v", bins, err)
		}
	}
}

func TestAggregator_Bucketing(t *testing.T) {
	a, err := New([]float64{0, 2, 6, 10}, PolicyClamp, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, x := range []float64{1, 1, 1, 5, 5, 9} {
		if err := a.Observe(x); err != nil {
			t.Fatalf("Observe(%v): %v", x, err)
		}
	}

	want := []uint64{3, 2, 1}
	got := a.Counts()
	if len(got) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	if a.Count() != 6 {
		t.Errorf("expected count=6, got %d", a.Count())
	}
	if a.Min() != 1 {
		t.Errorf("expected min=1, got %v", a.Min())
	}
	if a.Max() != 9 {
		t.Errorf("expected max=9, got %v", a.Max())
	}
	if a.Sum() != 22 {
		t.Errorf("expected sum=22, got %v", a.Sum())
	}
}

func TestAggregator_BoundarySamples(t *testing.T) {
	a, _ := New([]float64{0, 2, 6, 10}, PolicyDrop, 0)

	// A sample on a boundary opens that bucket.
	if err := a.Observe(2); err != nil {
		t.Fatalf("Observe(2): %v", err)
	}
	if got := a.Counts(); got[1] != 1 || got[0] != 0 {
		t.Errorf("sample on boundary 2 should land in bucket 1, got %v", got)
	}

	// The lower edge is inclusive, the upper edge exclusive.
	if err := a.Observe(0); err != nil {
		t.Fatalf("Observe(0): %v", err)
	}
	if err := a.Observe(10); !apperrors.Is(err, apperrors.ErrOutOfRange) {
		t.Errorf("Observe(10) at exclusive upper edge: expected ErrOutOfRange, got %v", err)
	}
}

func TestAggregator_ClampPolicy(t *testing.T) {
	a, _ := New([]float64{0, 2, 6, 10}, PolicyClamp, 0)

	if err := a.Observe(-5); err != nil {
		t.Fatalf("Observe(-5) under clamp: %v", err)
	}
	if err := a.Observe(100); err != nil {
		t.Fatalf("Observe(100) under clamp: %v", err)
	}

	got := a.Counts()
	if got[0] != 1 {
		t.Errorf("low outlier should clamp into first bucket, got %v", got)
	}
	if got[2] != 1 {
		t.Errorf("high outlier should clamp into last bucket, got %v", got)
	}
	if a.Clamped() != 2 {
		t.Errorf("expected clamped=2, got %d", a.Clamped())
	}
	// Clamped samples still feed min/max/sum with their true values.
	if a.Min() != -5 || a.Max() != 100 {
		t.Errorf("clamped samples must keep true extremes: min=%v max=%v", a.Min(), a.Max())
	}
}

func TestAggregator_DropPolicy(t *testing.T) {
	a, _ := New([]float64{0, 2, 6, 10}, PolicyDrop, 0)
	a.Observe(1)

	err := a.Observe(-5)
	if !apperrors.Is(err, apperrors.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if !apperrors.IsAggregationError(err) {
		t.Error("out-of-range should classify as aggregation error")
	}

	// The rejected sample left no trace.
	if a.Count() != 1 {
		t.Errorf("drop must not advance count, got %d", a.Count())
	}
	if a.Min() != 1 || a.Sum() != 1 {
		t.Errorf("drop must not touch min/sum: min=%v sum=%v", a.Min(), a.Sum())
	}
	if a.Clamped() != 0 {
		t.Errorf("drop must not advance clamp counter, got %d", a.Clamped())
	}
}

func TestAggregator_EmptyAccessors(t *testing.T) {
	a, _ := New([]float64{0, 10}, PolicyClamp, 0)
	if a.Min() != 0 || a.Max() != 0 {
		t.Error("empty aggregator should report zero min/max")
	}
	if a.Count() != 0 || a.Sum() != 0 {
		t.Error("empty aggregator should report zero count/sum")
	}
}

func TestAggregator_SumSaturation(t *testing.T) {
	a, _ := New([]float64{0, math.MaxFloat64}, PolicyClamp, 0)

	a.Observe(math.MaxFloat64 / 2)
	a.Observe(math.MaxFloat64 / 2)
	if a.Overflowed() {
		t.Fatal("sum at MaxFloat64 has not overflowed yet")
	}

	a.Observe(math.MaxFloat64 / 2)
	if !a.Overflowed() {
		t.Fatal("sum past MaxFloat64 should saturate")
	}
	if a.Sum() != math.MaxFloat64 {
		t.Errorf("saturated sum should pin at MaxFloat64, got %v", a.Sum())
	}
	if math.IsInf(a.Sum(), 0) {
		t.Error("saturated sum must stay finite")
	}

	// Saturation is sticky and further samples still count.
	a.Observe(1)
	if !a.Overflowed() || a.Count() != 4 {
		t.Error("overflow flag must stay set while counting continues")
	}
}

func TestAggregator_SquaredMean(t *testing.T) {
	a, _ := New([]float64{0, 100}, PolicyClamp, 0)
	for _, x := range []float64{1, 2, 3, 4} {
		a.Observe(x)
	}
	// (1+4+9+16)/4 = 7.5
	if math.Abs(a.SquaredMean()-7.5) > 1e-9 {
		t.Errorf("expected squared mean 7.5, got %v", a.SquaredMean())
	}
}

func TestAggregator_Quantiles(t *testing.T) {
	a, _ := New([]float64{0, 1000}, PolicyClamp, 0)

	if _, ok := a.Estimate(0.5); ok {
		t.Error("estimate should be unavailable before five samples")
	}

	for i := 1; i <= 999; i++ {
		a.Observe(float64(i))
	}

	p50, ok := a.Estimate(0.5)
	if !ok {
		t.Fatal("p50 unavailable")
	}
	if math.Abs(p50-500) > 50 {
		t.Errorf("p50 of 1..999 estimated as %v", p50)
	}

	p99, ok := a.Estimate(0.99)
	if !ok {
		t.Fatal("p99 unavailable")
	}
	if math.Abs(p99-990) > 20 {
		t.Errorf("p99 of 1..999 estimated as %v", p99)
	}

	if _, ok := a.Estimate(0.75); ok {
		t.Error("untracked quantile should report unavailable")
	}
}

func TestAggregator_RowSnapshotIsPure(t *testing.T) {
	a, _ := New([]float64{0, 2, 6, 10}, PolicyClamp, 1000)
	for _, x := range []float64{1, 1, 1, 5, 5, 9} {
		a.Observe(x)
	}

	row := a.Row("sled:io_latency", 42, 2000)
	if row.StartTimeNs != 1000 || row.TimestampNs != 2000 {
		t.Errorf("row timestamps: start=%d ts=%d", row.StartTimeNs, row.TimestampNs)
	}
	if row.SampleCount() != 6 {
		t.Errorf("expected 6 samples in row, got %d", row.SampleCount())
	}

	// Snapshot, keep observing, snapshot again: the first row is frozen.
	a.Observe(9)
	if row.SampleCount() != 6 {
		t.Error("earlier row mutated by later observation")
	}
	row2 := a.Row("sled:io_latency", 42, 3000)
	if row2.SampleCount() != 7 {
		t.Errorf("expected cumulative 7 samples, got %d", row2.SampleCount())
	}

	// Mutating the returned slices must not reach the aggregator.
	row2.Counts[0] = 999
	if a.Counts()[0] == 999 {
		t.Error("row shares count storage with the aggregator")
	}
}

func TestAggregator_FromRowResumes(t *testing.T) {
	a, _ := New([]float64{0, 2, 6, 10}, PolicyClamp, 1000)
	samples := []float64{1, 1, 1, 5, 5, 9, 3, 7, 0.5, 8}
	for _, x := range samples[:6] {
		a.Observe(x)
	}

	row := a.Row("sled:io_latency", 42, 2000)
	resumed, err := FromRow(row, PolicyClamp)
	if err != nil {
		t.Fatalf("FromRow: %v", err)
	}

	for _, x := range samples[6:] {
		a.Observe(x)
		resumed.Observe(x)
	}

	if resumed.Count() != a.Count() {
		t.Fatalf("resumed count %d, live %d", resumed.Count(), a.Count())
	}
	ra, rb := a.Row("n", 0, 0), resumed.Row("n", 0, 0)
	for i := range ra.Counts {
		if ra.Counts[i] != rb.Counts[i] {
			t.Errorf("bucket %d diverged: live %d, resumed %d", i, ra.Counts[i], rb.Counts[i])
		}
	}
	if ra.Min != rb.Min || ra.Max != rb.Max || ra.SumOfSamples != rb.SumOfSamples {
		t.Error("resumed scalar state diverged")
	}
	if ra.P50 != rb.P50 || ra.P90 != rb.P90 || ra.P99 != rb.P99 {
		t.Error("resumed quantile markers diverged")
	}
}

func TestFromRow_RejectsPartialSeed(t *testing.T) {
	a, _ := New([]float64{0, 10}, PolicyClamp, 0)
	for _, x := range []float64{1, 2, 3} {
		a.Observe(x)
	}
	row := a.Row("n", 0, 0)
	if _, err := FromRow(row, PolicyClamp); err == nil {
		t.Error("rows with fewer than five samples must not resume")
	}
}

func TestFromRow_EmptyRow(t *testing.T) {
	a, _ := New([]float64{0, 10}, PolicyClamp, 500)
	row := a.Row("n", 0, 600)
	resumed, err := FromRow(row, PolicyClamp)
	if err != nil {
		t.Fatalf("FromRow on empty row: %v", err)
	}
	if resumed.Count() != 0 {
		t.Errorf("expected empty resume, got count=%d", resumed.Count())
	}
}

func TestAggregator_IndependentAcrossGoroutines(t *testing.T) {
	// Two aggregators fed concurrently must not interfere: each goroutine
	// owns its aggregator exclusively.
	a1, _ := New([]float64{0, 100}, PolicyClamp, 0)
	a2, _ := New([]float64{0, 100}, PolicyClamp, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			a1.Observe(10)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			a2.Observe(20)
		}
	}()
	wg.Wait()

	if a1.Count() != 1000 || a1.Sum() != 10000 {
		t.Errorf("a1: count=%d sum=%v", a1.Count(), a1.Sum())
	}
	if a2.Count() != 2000 || a2.Sum() != 40000 {
		t.Errorf("a2: count=%d sum=%v", a2.Count(), a2.Sum())
	}
}

func TestAggregator_RejectsNonFiniteSamples(t *testing.T) {
	a, err := New([]float64{0, 2, 6, 10}, PolicyClamp, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Even under clamping there is no edge bucket for NaN or infinity.
	for _, x := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := a.Observe(x); !apperrors.Is(err, apperrors.ErrOutOfRange) {
			t.Errorf("Observe(%v): expected ErrOutOfRange, got %v", x, err)
		}
	}

	if a.Count() != 0 || a.Clamped() != 0 {
		t.Errorf("rejected samples mutated state: count=%d clamped=%d", a.Count(), a.Clamped())
	}

	// The aggregator stays usable afterwards.
	if err := a.Observe(1); err != nil {
		t.Fatalf("Observe(1) after rejections: %v", err)
	}
	if a.Count() != 1 {
		t.Errorf("expected count=1, got %d", a.Count())
	}
}
