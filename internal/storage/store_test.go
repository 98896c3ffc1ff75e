package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/meterd/internal/histogram"
	"github.com/xtxerr/meterd/internal/storage/parquet"
	"github.com/xtxerr/meterd/internal/storage/types"
)

func TestStore_WriteHistograms(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, parquet.DefaultOptions())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	agg, _ := histogram.New([]float64{0, 2, 6, 10}, histogram.PolicyClamp, 0)
	for _, x := range []float64{1, 1, 1, 5, 5, 9} {
		agg.Observe(x)
	}
	rows := []types.HistogramRow{agg.Row("sled:io_latency", 42, 1724400000000000000)}

	if err := store.WriteHistograms(rows); err != nil {
		t.Fatalf("WriteHistograms: %v", err)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "histograms", "*", "*.parquet"))
	if err != nil || len(paths) != 1 {
		t.Fatalf("expected 1 histogram file, got %v (%v)", paths, err)
	}

	r, err := parquet.NewHistogramReader(paths[0])
	if err != nil {
		t.Fatalf("NewHistogramReader: %v", err)
	}
	defer r.Close()
	got, err := r.ReadAll()
	if err != nil || len(got) != 1 {
		t.Fatalf("ReadAll: %v (%d rows)", err, len(got))
	}
	if got[0].SampleCount() != 6 {
		t.Errorf("expected 6 samples, got %d", got[0].SampleCount())
	}

	stats := store.Stats()
	if stats.HistogramRows != 1 || stats.FilesWritten != 1 {
		t.Errorf("stats wrong: %+v", stats)
	}
}

func TestStore_WriteScalars(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, parquet.DefaultOptions())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rows := []types.ScalarRow{
		{TimeseriesName: "sled:temperature", TimeseriesKey: 7, Count: 3, Sum: 60, Min: 10, Max: 30, Avg: 20, LastTsNs: 1724400000000000000},
	}
	if err := store.WriteScalars(rows); err != nil {
		t.Fatalf("WriteScalars: %v", err)
	}

	paths, _ := filepath.Glob(filepath.Join(dir, "scalars", "*", "*.parquet"))
	if len(paths) != 1 {
		t.Fatalf("expected 1 scalar file, got %v", paths)
	}
}

func TestStore_EmptyWritesAreNoops(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir, parquet.DefaultOptions())

	if err := store.WriteHistograms(nil); err != nil {
		t.Fatalf("WriteHistograms(nil): %v", err)
	}
	if err := store.WriteScalars(nil); err != nil {
		t.Fatalf("WriteScalars(nil): %v", err)
	}
	if store.Stats().FilesWritten != 0 {
		t.Error("empty writes must not create files")
	}
}

func TestStore_SuccessiveFlushesDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir, parquet.DefaultOptions())

	ts := int64(1724400000000000000)
	row := types.ScalarRow{TimeseriesName: "s", Count: 1, Sum: 1, LastTsNs: ts}

	// Same timestamp twice: the second file gets a disambiguating suffix.
	for i := 0; i < 2; i++ {
		if err := store.WriteScalars([]types.ScalarRow{row}); err != nil {
			t.Fatalf("WriteScalars %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "scalars", "2024-08-23"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 distinct files, got %d", len(entries))
	}
}
