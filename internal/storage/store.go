// Package storage persists flushed measurement rows. The Store fans rows
// out to immutable Parquet files; subpackages hold the row types, the
// Parquet codec, the scalar aggregation engine, and the schema metastore.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/meterd/internal/logging"
	"github.com/xtxerr/meterd/internal/storage/parquet"
	"github.com/xtxerr/meterd/internal/storage/types"
)

// =============================================================================
// Measurement Store
// =============================================================================

// Store persists flushed measurement rows as Parquet files under a
// date-partitioned directory tree:
//
//	<dataDir>/histograms/2026-08-23/15-04-05.000.parquet
//	<dataDir>/scalars/2026-08-23/15-04-05.000.parquet
//
// Each flush produces a new immutable file; rows are never rewritten.
type Store struct {
	mu      sync.Mutex
	dataDir string
	opts    parquet.Options
	log     *slog.Logger

	histogramRows atomic.Int64
	scalarRows    atomic.Int64
	filesWritten  atomic.Int64
}

// StoreStats holds store counters.
type StoreStats struct {
	HistogramRows int64
	ScalarRows    int64
	FilesWritten  int64
}

// NewStore creates a measurement store rooted at dataDir.
func NewStore(dataDir string, opts parquet.Options) (*Store, error) {
	for _, sub := range []string{"histograms", "scalars"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return &Store{
		dataDir: dataDir,
		opts:    opts,
		log:     logging.Component("store"),
	}, nil
}

// WriteHistograms writes one flush's histogram rows as a new Parquet file.
func (s *Store) WriteHistograms(rows []types.HistogramRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.nextPath("histograms", rows[0].Timestamp())
	w, err := parquet.NewHistogramWriter(path, s.opts)
	if err != nil {
		return fmt.Errorf("create histogram writer: %w", err)
	}
	if err := w.Write(rows); err != nil {
		w.Close()
		return fmt.Errorf("write histograms: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close histogram writer: %w", err)
	}

	s.histogramRows.Add(int64(len(rows)))
	s.filesWritten.Add(1)
	s.log.Debug("wrote histogram file", "path", path, "rows", len(rows))
	return nil
}

// WriteScalars writes one flush's scalar rows as a new Parquet file.
func (s *Store) WriteScalars(rows []types.ScalarRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.nextPath("scalars", time.Unix(0, rows[0].LastTsNs))
	w, err := parquet.NewScalarWriter(path, s.opts)
	if err != nil {
		return fmt.Errorf("create scalar writer: %w", err)
	}
	if err := w.Write(rows); err != nil {
		w.Close()
		return fmt.Errorf("write scalars: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close scalar writer: %w", err)
	}

	s.scalarRows.Add(int64(len(rows)))
	s.filesWritten.Add(1)
	s.log.Debug("wrote scalar file", "path", path, "rows", len(rows))
	return nil
}

// nextPath returns a fresh file path partitioned by the row timestamp's
// date. Millisecond precision in the name keeps successive flushes from
// colliding; a numeric suffix resolves the rest.
func (s *Store) nextPath(kind string, ts time.Time) string {
	dir := filepath.Join(s.dataDir, kind, ts.UTC().Format("2006-01-02"))
	os.MkdirAll(dir, 0o755)

	base := ts.UTC().Format("15-04-05.000")
	path := filepath.Join(dir, base+".parquet")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s.%d.parquet", base, i))
	}
}

// Stats returns store counters.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		HistogramRows: s.histogramRows.Load(),
		ScalarRows:    s.scalarRows.Load(),
		FilesWritten:  s.filesWritten.Load(),
	}
}
