package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsTracker_Empty(t *testing.T) {
	s := NewStatsTracker()
	stats := s.Snapshot(0, 100)

	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.HitRate)
	assert.Zero(t, stats.AvgResponseTimeMs.Overall)
	assert.Equal(t, 100, stats.MaxSize)
}

func TestStatsTracker_Averages(t *testing.T) {
	s := NewStatsTracker()
	s.RecordMiss(200 * time.Millisecond)
	s.RecordHit(2 * time.Millisecond)
	s.RecordHit(4 * time.Millisecond)

	stats := s.Snapshot(1, 100)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 66.67, stats.HitRate)
	assert.Equal(t, 3.0, stats.AvgResponseTimeMs.Cached)
	assert.Equal(t, 200.0, stats.AvgResponseTimeMs.Uncached)
	assert.Equal(t, 68.67, stats.AvgResponseTimeMs.Overall)

	s.Reset()
	assert.Zero(t, s.Snapshot(0, 100).Hits)
}
