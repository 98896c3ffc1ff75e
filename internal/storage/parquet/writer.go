package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/xtxerr/meterd/internal/quantile"
	"github.com/xtxerr/meterd/internal/storage/types"
)

// Options configures the Parquet writers.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// HistogramFileRow is a histogram snapshot in Parquet column layout.
// Marker triples are flattened to five-element array columns.
type HistogramFileRow struct {
	TimeseriesName string    `parquet:"timeseries_name,zstd"`
	TimeseriesKey  uint64    `parquet:"timeseries_key"`
	StartTimeNs    int64     `parquet:"start_time_ns"`
	TimestampNs    int64     `parquet:"timestamp_ns"`
	Bins           []float64 `parquet:"bins"`
	Counts         []uint64  `parquet:"counts"`
	Min            float64   `parquet:"min"`
	Max            float64   `parquet:"max"`
	SumOfSamples   float64   `parquet:"sum_of_samples"`
	SquaredMean    float64   `parquet:"squared_mean"`
	Overflow       bool      `parquet:"overflow"`
	Clamped        uint64    `parquet:"clamped"`

	P50MarkerHeights []float64 `parquet:"p50_marker_heights"`
	P50MarkerPos     []uint64  `parquet:"p50_marker_positions"`
	P50DesiredPos    []float64 `parquet:"p50_desired_marker_positions"`
	P90MarkerHeights []float64 `parquet:"p90_marker_heights"`
	P90MarkerPos     []uint64  `parquet:"p90_marker_positions"`
	P90DesiredPos    []float64 `parquet:"p90_desired_marker_positions"`
	P99MarkerHeights []float64 `parquet:"p99_marker_heights"`
	P99MarkerPos     []uint64  `parquet:"p99_marker_positions"`
	P99DesiredPos    []float64 `parquet:"p99_desired_marker_positions"`
}

// ScalarFileRow is a scalar interval row in Parquet column layout.
type ScalarFileRow struct {
	TimeseriesName string  `parquet:"timeseries_name,zstd"`
	TimeseriesKey  uint64  `parquet:"timeseries_key"`
	BucketStartNs  int64   `parquet:"bucket_start_ns"`
	BucketEndNs    int64   `parquet:"bucket_end_ns"`
	Count          int64   `parquet:"count"`
	Sum            float64 `parquet:"sum"`
	Min            float64 `parquet:"min"`
	Max            float64 `parquet:"max"`
	Avg            float64 `parquet:"avg"`

	// HasPercentiles distinguishes "no sketch configured" from genuine
	// all-zero percentile values.
	HasPercentiles bool    `parquet:"has_percentiles"`
	P50            float64 `parquet:"p50,optional"`
	P90            float64 `parquet:"p90,optional"`
	P99            float64 `parquet:"p99,optional"`

	FirstTsNs int64 `parquet:"first_ts_ns"`
	LastTsNs  int64 `parquet:"last_ts_ns"`
}

// =============================================================================
// Conversions
// =============================================================================

func stateColumns(s quantile.State) (heights []float64, positions []uint64, desired []float64) {
	return append([]float64(nil), s.Heights[:]...),
		append([]uint64(nil), s.Positions[:]...),
		append([]float64(nil), s.Desired[:]...)
}

func columnsState(heights []float64, positions []uint64, desired []float64) quantile.State {
	var s quantile.State
	copy(s.Heights[:], heights)
	copy(s.Positions[:], positions)
	copy(s.Desired[:], desired)
	return s
}

// HistogramToRow converts a HistogramRow to its Parquet layout.
func HistogramToRow(h *types.HistogramRow) HistogramFileRow {
	row := HistogramFileRow{
		TimeseriesName: h.TimeseriesName,
		TimeseriesKey:  h.TimeseriesKey,
		StartTimeNs:    h.StartTimeNs,
		TimestampNs:    h.TimestampNs,
		Bins:           append([]float64(nil), h.Bins...),
		Counts:         append([]uint64(nil), h.Counts...),
		Min:            h.Min,
		Max:            h.Max,
		SumOfSamples:   h.SumOfSamples,
		SquaredMean:    h.SquaredMean,
		Overflow:       h.Overflow,
		Clamped:        h.Clamped,
	}
	row.P50MarkerHeights, row.P50MarkerPos, row.P50DesiredPos = stateColumns(h.P50)
	row.P90MarkerHeights, row.P90MarkerPos, row.P90DesiredPos = stateColumns(h.P90)
	row.P99MarkerHeights, row.P99MarkerPos, row.P99DesiredPos = stateColumns(h.P99)
	return row
}

// RowToHistogram converts a Parquet row back to a HistogramRow.
func RowToHistogram(r *HistogramFileRow) types.HistogramRow {
	return types.HistogramRow{
		TimeseriesName: r.TimeseriesName,
		TimeseriesKey:  r.TimeseriesKey,
		StartTimeNs:    r.StartTimeNs,
		TimestampNs:    r.TimestampNs,
		Bins:           append([]float64(nil), r.Bins...),
		Counts:         append([]uint64(nil), r.Counts...),
		Min:            r.Min,
		Max:            r.Max,
		SumOfSamples:   r.SumOfSamples,
		SquaredMean:    r.SquaredMean,
		Overflow:       r.Overflow,
		Clamped:        r.Clamped,
		P50:            columnsState(r.P50MarkerHeights, r.P50MarkerPos, r.P50DesiredPos),
		P90:            columnsState(r.P90MarkerHeights, r.P90MarkerPos, r.P90DesiredPos),
		P99:            columnsState(r.P99MarkerHeights, r.P99MarkerPos, r.P99DesiredPos),
	}
}

// ScalarToRow converts a ScalarRow to its Parquet layout.
func ScalarToRow(s *types.ScalarRow) ScalarFileRow {
	row := ScalarFileRow{
		TimeseriesName: s.TimeseriesName,
		TimeseriesKey:  s.TimeseriesKey,
		BucketStartNs:  s.BucketStartNs,
		BucketEndNs:    s.BucketEndNs,
		Count:          s.Count,
		Sum:            s.Sum,
		Min:            s.Min,
		Max:            s.Max,
		Avg:            s.Avg,
		FirstTsNs:      s.FirstTsNs,
		LastTsNs:       s.LastTsNs,
	}
	if s.HasPercentiles() {
		row.HasPercentiles = true
		row.P50 = *s.P50
		row.P90 = *s.P90
		row.P99 = *s.P99
	}
	return row
}

// RowToScalar converts a Parquet row back to a ScalarRow.
func RowToScalar(r *ScalarFileRow) types.ScalarRow {
	row := types.ScalarRow{
		TimeseriesName: r.TimeseriesName,
		TimeseriesKey:  r.TimeseriesKey,
		BucketStartNs:  r.BucketStartNs,
		BucketEndNs:    r.BucketEndNs,
		Count:          r.Count,
		Sum:            r.Sum,
		Min:            r.Min,
		Max:            r.Max,
		Avg:            r.Avg,
		FirstTsNs:      r.FirstTsNs,
		LastTsNs:       r.LastTsNs,
	}
	if r.HasPercentiles {
		row.SetPercentiles(r.P50, r.P90, r.P99)
	}
	return row
}

// =============================================================================
// Writers
// =============================================================================

// HistogramWriter writes histogram snapshots to a Parquet file.
type HistogramWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[HistogramFileRow]
	rowCount int64
	closed   bool
}

// NewHistogramWriter creates a histogram Parquet writer.
func NewHistogramWriter(path string, opts Options) (*HistogramWriter, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}

	writer := parquet.NewGenericWriter[HistogramFileRow](f,
		parquet.Compression(getCompression(opts.Compression)))

	return &HistogramWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends histogram rows to the file.
func (w *HistogramWriter) Write(rows []types.HistogramRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	fileRows := make([]HistogramFileRow, len(rows))
	for i := range rows {
		fileRows[i] = HistogramToRow(&rows[i])
	}

	n, err := w.writer.Write(fileRows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *HistogramWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *HistogramWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *HistogramWriter) Path() string {
	return w.path
}

// ScalarWriter writes scalar interval rows to a Parquet file.
type ScalarWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ScalarFileRow]
	rowCount int64
	closed   bool
}

// NewScalarWriter creates a scalar Parquet writer.
func NewScalarWriter(path string, opts Options) (*ScalarWriter, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}

	writer := parquet.NewGenericWriter[ScalarFileRow](f,
		parquet.Compression(getCompression(opts.Compression)))

	return &ScalarWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends scalar rows to the file.
func (w *ScalarWriter) Write(rows []types.ScalarRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	fileRows := make([]ScalarFileRow, len(rows))
	for i := range rows {
		fileRows[i] = ScalarToRow(&rows[i])
	}

	n, err := w.writer.Write(fileRows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *ScalarWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *ScalarWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *ScalarWriter) Path() string {
	return w.path
}

// createFile ensures the parent directory exists and creates the file.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return f, nil
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
