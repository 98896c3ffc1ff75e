// Package ingest drives the write path: observations are validated
// against the schema registry, keyed, folded into per-series aggregation
// state, and periodically flushed to the measurement store.
//
// A single timeseries key's aggregator is never touched concurrently:
// keys are sharded, and each shard's state is owned behind its own lock.
// Distinct keys on distinct shards proceed in parallel.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/meterd/internal/histogram"
	"github.com/xtxerr/meterd/internal/logging"
	"github.com/xtxerr/meterd/internal/schema"
	"github.com/xtxerr/meterd/internal/series"
	"github.com/xtxerr/meterd/internal/storage/aggregate"
	"github.com/xtxerr/meterd/internal/storage/types"
)

// RowWriter is the measurement store collaborator. Implementations must
// treat written rows as immutable; retries and retention are theirs.
type RowWriter interface {
	WriteHistograms(rows []types.HistogramRow) error
	WriteScalars(rows []types.ScalarRow) error
}

// Observation is one raw field-tagged sample.
type Observation struct {
	Target      string
	Metric      string
	Version     uint32
	Fields      map[string]schema.FieldValue
	Value       float64
	TimestampNs int64
}

// TimeseriesName returns the store-facing series name.
func (o *Observation) TimeseriesName() string {
	return o.Target + ":" + o.Metric
}

// Config configures the ingest service.
type Config struct {
	// FlushInterval is how often aggregation state is snapshotted to the
	// store. Default: 30s.
	FlushInterval time.Duration

	// Shards is the number of histogram shards; must be a power of two.
	// Default: 16.
	Shards int

	// DefaultBins is the bucket-boundary sequence for histogram metrics
	// without an explicit override.
	DefaultBins []float64

	// MetricBins overrides bins per "target:metric" series name.
	MetricBins map[string][]float64

	// Policy selects clamp-or-drop for out-of-range histogram samples.
	Policy histogram.Policy

	// SketchAccuracy is the DDSketch relative accuracy for scalar
	// percentiles; 0 disables them. Default: 0.01.
	SketchAccuracy float64

	// ScalarBucket is the aggregation interval for scalar series.
	// Default: 5m.
	ScalarBucket time.Duration
}

func (c *Config) applyDefaults() {
	if c.FlushInterval == 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.Shards == 0 {
		c.Shards = 16
	}
	if c.SketchAccuracy == 0 {
		c.SketchAccuracy = 0.01
	}
	if c.ScalarBucket == 0 {
		c.ScalarBucket = 5 * time.Minute
	}
	if len(c.DefaultBins) == 0 {
		c.DefaultBins = []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000}
	}
}

// Stats are the service's observable counters.
type Stats struct {
	Observed  uint64
	Rejected  uint64
	Clamped   uint64
	Overflows uint64
}

// Service routes validated observations into per-series aggregation state.
type Service struct {
	cfg    Config
	reg    *schema.Registry
	writer RowWriter
	log    *slog.Logger

	shards  []*shard
	scalars *aggregate.Manager

	observed  atomic.Uint64
	rejected  atomic.Uint64
	clamped   atomic.Uint64
	overflows atomic.Uint64
}

// shard owns a disjoint subset of histogram timeseries.
type shard struct {
	mu         sync.Mutex
	histograms map[uint64]*seriesHistogram
}

type seriesHistogram struct {
	name string
	agg  *histogram.Aggregator
}

// New creates an ingest service.
func New(cfg Config, reg *schema.Registry, writer RowWriter) (*Service, error) {
	cfg.applyDefaults()
	if cfg.Shards&(cfg.Shards-1) != 0 {
		return nil, fmt.Errorf("shards must be a power of two, got %d", cfg.Shards)
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{histograms: make(map[uint64]*seriesHistogram)}
	}

	return &Service{
		cfg:     cfg,
		reg:     reg,
		writer:  writer,
		log:     logging.Component("ingest"),
		shards:  shards,
		scalars: aggregate.NewManager(cfg.ScalarBucket, cfg.SketchAccuracy),
	}, nil
}

// =============================================================================
// Observe
// =============================================================================

// Observe validates one observation and folds it into its timeseries.
// Validation failures reject only this observation; the caller decides
// whether to drop, log, or retry.
func (s *Service) Observe(o Observation) error {
	spec, err := s.reg.Metric(o.Target, o.Metric)
	if err != nil {
		s.rejected.Add(1)
		return err
	}
	if err := s.reg.ValidateObservation(o.Target, o.Metric, o.Version, o.Fields); err != nil {
		s.rejected.Add(1)
		return err
	}

	encoded := make(map[string]string, len(o.Fields))
	for name, v := range o.Fields {
		encoded[name] = v.Encode()
	}
	key := series.Key(o.Target, o.Metric, encoded)
	name := o.TimeseriesName()

	ts := o.TimestampNs
	if ts == 0 {
		ts = time.Now().UnixNano()
	}

	if spec.Datum.IsHistogram() {
		return s.observeHistogram(name, key, o.Value, ts)
	}

	s.scalars.Process(name, key, o.Value, ts)
	s.observed.Add(1)
	return nil
}

func (s *Service) observeHistogram(name string, key uint64, value float64, timestampNs int64) error {
	sh := s.shards[key&uint64(len(s.shards)-1)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.histograms[key]
	if !ok {
		agg, err := histogram.New(s.binsFor(name), s.cfg.Policy, timestampNs)
		if err != nil {
			return err
		}
		entry = &seriesHistogram{name: name, agg: agg}
		sh.histograms[key] = entry
	}

	clampedBefore := entry.agg.Clamped()
	overflowBefore := entry.agg.Overflowed()

	if err := entry.agg.Observe(value); err != nil {
		s.rejected.Add(1)
		return err
	}

	if entry.agg.Clamped() > clampedBefore {
		s.clamped.Add(1)
	}
	if entry.agg.Overflowed() && !overflowBefore {
		s.overflows.Add(1)
		s.log.Warn("histogram sum saturated", "timeseries", name, "key", key)
	}

	s.observed.Add(1)
	return nil
}

// binsFor returns the bucket boundaries for a series name.
func (s *Service) binsFor(name string) []float64 {
	if bins, ok := s.cfg.MetricBins[name]; ok {
		return bins
	}
	return s.cfg.DefaultBins
}

// =============================================================================
// Flush
// =============================================================================

// Flush snapshots all histogram state and drains completed scalar
// intervals, writing both row sets concurrently. Histogram rows are
// cumulative since each series' start time; flushing does not reset
// accumulators.
func (s *Service) Flush(ctx context.Context) error {
	return s.flush(ctx, false)
}

// FlushAll additionally drains in-progress scalar intervals; used at
// shutdown.
func (s *Service) FlushAll(ctx context.Context) error {
	return s.flush(ctx, true)
}

func (s *Service) flush(ctx context.Context, final bool) error {
	now := time.Now().UnixNano()

	var hrows []types.HistogramRow
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.histograms {
			if entry.agg.Count() == 0 {
				continue
			}
			hrows = append(hrows, entry.agg.Row(entry.name, key, now))
		}
		sh.mu.Unlock()
	}

	var srows []types.ScalarRow
	if final {
		srows = s.scalars.FlushAll()
	} else {
		srows = s.scalars.FlushCompleted()
	}

	if len(hrows) == 0 && len(srows) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	if len(hrows) > 0 {
		g.Go(func() error {
			return s.writer.WriteHistograms(hrows)
		})
	}
	if len(srows) > 0 {
		g.Go(func() error {
			return s.writer.WriteScalars(srows)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	s.log.Debug("flushed", "histogram_rows", len(hrows), "scalar_rows", len(srows))
	return nil
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs a final drain.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	s.log.Info("started",
		"flush_interval", s.cfg.FlushInterval,
		"shards", len(s.shards),
		"scalar_bucket", s.cfg.ScalarBucket)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.FlushAll(flushCtx); err != nil {
				return err
			}
			s.log.Info("stopped")
			return nil
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.Error("flush failed", "error", err)
			}
		}
	}
}

// Stats returns the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Observed:  s.observed.Load(),
		Rejected:  s.rejected.Load(),
		Clamped:   s.clamped.Load(),
		Overflows: s.overflows.Load(),
	}
}

// ActiveHistograms returns the number of live histogram aggregators.
func (s *Service) ActiveHistograms() int {
	var n int
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.histograms)
		sh.mu.Unlock()
	}
	return n
}
