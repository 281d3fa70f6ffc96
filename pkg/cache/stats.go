package cache

import (
	"math"
	"sync"
	"time"
)

// StatsTracker 记录命中、未命中次数和响应时间。
// 只保留累计值，内存占用与请求量无关。
type StatsTracker struct {
	mu sync.Mutex

	hits   int64
	misses int64

	cachedTotal   time.Duration
	uncachedTotal time.Duration
}

// NewStatsTracker 创建统计器
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// RecordHit 记录一次命中
func (s *StatsTracker) RecordHit(d time.Duration) {
	s.mu.Lock()
	s.hits++
	s.cachedTotal += d
	s.mu.Unlock()
}

// RecordMiss 记录一次未命中
func (s *StatsTracker) RecordMiss(d time.Duration) {
	s.mu.Lock()
	s.misses++
	s.uncachedTotal += d
	s.mu.Unlock()
}

// Snapshot 生成统计快照，size 和 maxSize 由缓存提供
func (s *StatsTracker) Snapshot(size, maxSize int) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Hits:    s.hits,
		Misses:  s.misses,
		Size:    size,
		MaxSize: maxSize,
	}

	total := s.hits + s.misses
	if total > 0 {
		stats.HitRate = round2(float64(s.hits) / float64(total) * 100)
	}

	stats.AvgResponseTimeMs = ResponseTimeAvgs{
		Cached:   avgMillis(s.cachedTotal, s.hits),
		Uncached: avgMillis(s.uncachedTotal, s.misses),
		Overall:  avgMillis(s.cachedTotal+s.uncachedTotal, total),
	}
	return stats
}

// Reset 清零
func (s *StatsTracker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits, s.misses = 0, 0
	s.cachedTotal, s.uncachedTotal = 0, 0
}

func avgMillis(total time.Duration, n int64) float64 {
	if n == 0 {
		return 0
	}
	return round2(float64(total) / float64(time.Millisecond) / float64(n))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
