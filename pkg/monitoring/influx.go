package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/hamzashaikhcan/user-data-api/pkg/cache"
	"github.com/hamzashaikhcan/user-data-api/pkg/config"
	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
	"github.com/hamzashaikhcan/user-data-api/pkg/queue"
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
)

// PointWriter 同步写入数据点，api.WriteAPIBlocking 满足该接口
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Snapshot 一次导出的系统统计
type Snapshot struct {
	At       time.Time
	Cache    cache.Stats
	Limiters map[string]ratelimit.Stats
	Queues   map[string]queue.Counts
}

// InfluxExporter 周期性地把缓存、限流和队列统计写入 InfluxDB
type InfluxExporter struct {
	writer PointWriter
	client influxdb2.Client
	log    *logrus.Entry
}

// NewInfluxExporter 连接 InfluxDB 并检查健康状态
func NewInfluxExporter(ctx context.Context, cfg config.InfluxConfig) (*InfluxExporter, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	e := NewInfluxExporterWithWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket))
	e.client = client
	e.log.WithFields(logrus.Fields{"url": cfg.URL, "bucket": cfg.Bucket}).Info("influx exporter connected")
	return e, nil
}

// NewInfluxExporterWithWriter 使用给定的写入器
func NewInfluxExporterWithWriter(w PointWriter) *InfluxExporter {
	return &InfluxExporter{
		writer: w,
		log:    logger.WithComponent("influx"),
	}
}

// Points 把统计快照转换为数据点
func (e *InfluxExporter) Points(s Snapshot) []*write.Point {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}

	points := make([]*write.Point, 0, 1+len(s.Limiters)+len(s.Queues))
	points = append(points, influxdb2.NewPointWithMeasurement("cache_stats").
		AddField("hits", s.Cache.Hits).
		AddField("misses", s.Cache.Misses).
		AddField("size", s.Cache.Size).
		AddField("hit_rate", s.Cache.HitRate).
		AddField("avg_cached_ms", s.Cache.AvgResponseTimeMs.Cached).
		AddField("avg_uncached_ms", s.Cache.AvgResponseTimeMs.Uncached).
		SetTime(at))

	for name, st := range s.Limiters {
		points = append(points, influxdb2.NewPoint("rate_limit",
			map[string]string{"limiter": name},
			map[string]interface{}{
				"tracked":        st.TrackedIdentities,
				"admitted":       st.Admitted,
				"rejected_burst": st.RejectedBurst,
				"rejected_quota": st.RejectedQuota,
			},
			at))
	}

	for name, c := range s.Queues {
		points = append(points, influxdb2.NewPoint("queue",
			map[string]string{"queue": name},
			map[string]interface{}{
				"waiting":   c.Waiting,
				"active":    c.Active,
				"completed": c.Completed,
				"failed":    c.Failed,
			},
			at))
	}
	return points
}

// Export 写入一次快照
func (e *InfluxExporter) Export(ctx context.Context, s Snapshot) error {
	points := e.Points(s)
	if err := e.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d points: %w", len(points), err)
	}
	e.log.WithField("points", len(points)).Debug("stats exported")
	return nil
}

// Close 关闭客户端
func (e *InfluxExporter) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
