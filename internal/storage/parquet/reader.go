package parquet

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/meterd/internal/storage/types"
)

// HistogramReader reads histogram snapshots from a Parquet file.
type HistogramReader struct {
	file   *os.File
	reader *parquet.GenericReader[HistogramFileRow]
	path   string
}

// NewHistogramReader opens a histogram Parquet file for reading.
func NewHistogramReader(path string) (*HistogramReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[HistogramFileRow](f)

	return &HistogramReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// ReadAll reads every histogram row in the file.
func (r *HistogramReader) ReadAll() ([]types.HistogramRow, error) {
	numRows := r.reader.NumRows()
	rows := make([]HistogramFileRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && int64(n) != numRows {
		return nil, err
	}

	out := make([]types.HistogramRow, n)
	for i := 0; i < n; i++ {
		out[i] = RowToHistogram(&rows[i])
	}
	return out, nil
}

// NumRows returns the total number of rows in the file.
func (r *HistogramReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *HistogramReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// ScalarReader reads scalar interval rows from a Parquet file.
type ScalarReader struct {
	file   *os.File
	reader *parquet.GenericReader[ScalarFileRow]
	path   string
}

// NewScalarReader opens a scalar Parquet file for reading.
func NewScalarReader(path string) (*ScalarReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[ScalarFileRow](f)

	return &ScalarReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// ReadAll reads every scalar row in the file.
func (r *ScalarReader) ReadAll() ([]types.ScalarRow, error) {
	numRows := r.reader.NumRows()
	rows := make([]ScalarFileRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && int64(n) != numRows {
		return nil, err
	}

	out := make([]types.ScalarRow, n)
	for i := 0; i < n; i++ {
		out[i] = RowToScalar(&rows[i])
	}
	return out, nil
}

// NumRows returns the total number of rows in the file.
func (r *ScalarReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *ScalarReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
