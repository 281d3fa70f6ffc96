package cache

import (
	"context"
	"time"
)

// FetchFunc 缓存未命中时调用的加载函数
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Recorder 缓存指标上报接口，实现方不得阻塞调用方
type Recorder interface {
	// RecordHit 记录一次命中及其耗时
	RecordHit(d time.Duration)
	// RecordMiss 记录一次未命中（实际加载）及其耗时
	RecordMiss(d time.Duration)
	// RecordSize 上报当前条目数
	RecordSize(n int)
}

// Clock 时间源，测试中可替换
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type noopRecorder struct{}

func (noopRecorder) RecordHit(time.Duration)  {}
func (noopRecorder) RecordMiss(time.Duration) {}
func (noopRecorder) RecordSize(int)           {}

// Stats 缓存统计快照
type Stats struct {
	Hits              int64            `json:"hits"`
	Misses            int64            `json:"misses"`
	Size              int              `json:"size"`
	MaxSize           int              `json:"maxSize"`
	HitRate           float64          `json:"hitRate"` // 百分比，0-100
	AvgResponseTimeMs ResponseTimeAvgs `json:"avgResponseTimeMs"`
}

// ResponseTimeAvgs 平均响应时间（毫秒）
type ResponseTimeAvgs struct {
	Cached   float64 `json:"cached"`
	Uncached float64 `json:"uncached"`
	Overall  float64 `json:"overall"`
}
