package aggregate

import (
	"sync"
	"time"

	"github.com/xtxerr/meterd/internal/storage/types"
)

// Manager manages scalar aggregates for many timeseries.
// It handles interval transitions and flushing completed aggregates.
type Manager struct {
	mu sync.RWMutex

	// Configuration
	bucketSize     time.Duration
	sketchAccuracy float64 // 0 disables percentile sketches

	// Active aggregates by timeseries key
	aggregates map[uint64]*ScalarAggregate

	// Completed aggregates waiting to be flushed
	completed []types.ScalarRow

	// Statistics
	stats ManagerStats
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	ActiveAggregates int64
	CompletedPending int64
	SamplesProcessed int64
	BucketsCompleted int64
	FlushesPerformed int64
}

// NewManager creates a scalar aggregate manager. sketchAccuracy is the
// DDSketch relative accuracy for percentiles; 0 disables them.
func NewManager(bucketSize time.Duration, sketchAccuracy float64) *Manager {
	return &Manager{
		bucketSize:     bucketSize,
		sketchAccuracy: sketchAccuracy,
		aggregates:     make(map[uint64]*ScalarAggregate),
		completed:      make([]types.ScalarRow, 0, 1024),
	}
}

// Process adds a sample to the aggregate for its timeseries.
// If the sample opens a new interval, the old interval is completed.
func (m *Manager) Process(name string, key uint64, value float64, timestampNs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucketStart, bucketEnd := m.calculateBucket(timestampNs)

	agg, exists := m.aggregates[key]
	if !exists {
		agg = New(name, key, bucketStart, bucketEnd, m.sketchAccuracy)
		m.aggregates[key] = agg
	} else if bucketStart > agg.BucketStartNs() {
		if !agg.IsEmpty() {
			m.completed = append(m.completed, agg.Row())
			m.stats.BucketsCompleted++
		}
		agg.Reset(bucketStart, bucketEnd, m.sketchAccuracy)
	}

	agg.Add(value, timestampNs)
	m.stats.SamplesProcessed++
}

// FlushCompleted returns and clears all completed interval rows.
func (m *Manager) FlushCompleted() []types.ScalarRow {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.completed) == 0 {
		return nil
	}

	result := m.completed
	m.completed = make([]types.ScalarRow, 0, 1024)
	m.stats.FlushesPerformed++

	return result
}

// FlushAll completes all active aggregates and returns them together
// with any pending completed rows. Typically called during shutdown.
func (m *Manager) FlushAll() []types.ScalarRow {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, agg := range m.aggregates {
		if !agg.IsEmpty() {
			m.completed = append(m.completed, agg.Row())
			m.stats.BucketsCompleted++
		}
	}
	m.aggregates = make(map[uint64]*ScalarAggregate)

	result := m.completed
	m.completed = make([]types.ScalarRow, 0, 1024)
	m.stats.FlushesPerformed++

	return result
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.ActiveAggregates = int64(len(m.aggregates))
	stats.CompletedPending = int64(len(m.completed))
	return stats
}

// ActiveCount returns the number of active aggregates.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aggregates)
}

// CompletedCount returns the number of completed rows pending flush.
func (m *Manager) CompletedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.completed)
}

// calculateBucket aligns a timestamp to its interval boundaries.
func (m *Manager) calculateBucket(timestampNs int64) (start, end int64) {
	bucketNs := m.bucketSize.Nanoseconds()
	start = (timestampNs / bucketNs) * bucketNs
	end = start + bucketNs
	return
}

// BucketSize returns the configured interval length.
func (m *Manager) BucketSize() time.Duration {
	return m.bucketSize
}
