package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamzashaikhcan/user-data-api/pkg/cache"
	"github.com/hamzashaikhcan/user-data-api/pkg/config"
	"github.com/hamzashaikhcan/user-data-api/pkg/queue"
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
)

func TestPrometheus_CacheAndRateLimit(t *testing.T) {
	p := NewPrometheus()

	p.RecordHit(time.Millisecond)
	p.RecordHit(time.Millisecond)
	p.RecordMiss(200 * time.Millisecond)
	p.RecordSize(3)
	p.RecordRejection(ratelimit.Rejection{Gate: ratelimit.GateBurst})
	p.RecordRejection(ratelimit.Rejection{Gate: ratelimit.GateQuota})
	p.RecordRejection(ratelimit.Rejection{Gate: ratelimit.GateQuota})

	assert.Equal(t, 2.0, testutil.ToFloat64(p.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.cacheMisses))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.cacheSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.rateLimitExceeded.WithLabelValues("burst")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.rateLimitExceeded.WithLabelValues("quota")))
}

func TestPrometheus_QueueAndErrors(t *testing.T) {
	p := NewPrometheus()

	p.RecordJob("fetch-user-queue", queue.StatusCompleted)
	p.RecordJob("fetch-user-queue", queue.StatusFallback)
	p.SetQueueDepth("fetch-user-queue", 4, 1)
	p.RecordError("NOT_FOUND")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.queueJobs.WithLabelValues("fetch-user-queue", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.queueJobs.WithLabelValues("fetch-user-queue", "fallback")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.queueWaiting.WithLabelValues("fetch-user-queue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.queueActive.WithLabelValues("fetch-user-queue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.errors.WithLabelValues("NOT_FOUND")))
}

func TestPrometheus_Handler(t *testing.T) {
	p := NewPrometheus()
	p.ObserveRequest(http.MethodGet, "/api/v1/users/:id", http.StatusOK, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",route="/api/v1/users/:id",status_code="200"} 1`)
	assert.Contains(t, body, "http_request_duration_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}

type captureObserver struct {
	got []ratelimit.Rejection
}

func (c *captureObserver) RecordRejection(r ratelimit.Rejection) { c.got = append(c.got, r) }

func TestObservers_FanOut(t *testing.T) {
	a, b := &captureObserver{}, &captureObserver{}
	obs := Observers{a, nil, b}

	obs.RecordRejection(ratelimit.Rejection{Identity: "1.2.3.4", Gate: ratelimit.GateBurst})

	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	assert.Equal(t, "1.2.3.4", b.got[0].Identity)
}

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (f *fakeWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, point...)
	return nil
}

func TestInfluxExporter_Export(t *testing.T) {
	w := &fakeWriter{}
	e := NewInfluxExporterWithWriter(w)
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	err := e.Export(context.Background(), Snapshot{
		At:       at,
		Cache:    cache.Stats{Hits: 2, Misses: 1, Size: 1, HitRate: 66.67},
		Limiters: map[string]ratelimit.Stats{"api": {Admitted: 10, RejectedBurst: 1}},
		Queues:   map[string]queue.Counts{"fetch-user-queue": {Completed: 5}},
	})
	require.NoError(t, err)
	require.Len(t, w.points, 3)

	byName := map[string]*write.Point{}
	for _, p := range w.points {
		byName[p.Name()] = p
	}

	cachePoint := byName["cache_stats"]
	require.NotNil(t, cachePoint)
	assert.Empty(t, cachePoint.TagList())
	assert.EqualValues(t, 2, pointField(cachePoint, "hits"))
	assert.EqualValues(t, 1, pointField(cachePoint, "misses"))
	assert.Equal(t, at, cachePoint.Time())

	limitPoint := byName["rate_limit"]
	require.NotNil(t, limitPoint)
	assert.Equal(t, map[string]string{"limiter": "api"}, pointTags(limitPoint))
	assert.EqualValues(t, 1, pointField(limitPoint, "rejected_burst"))
	assert.EqualValues(t, 10, pointField(limitPoint, "admitted"))

	queuePoint := byName["queue"]
	require.NotNil(t, queuePoint)
	assert.Equal(t, map[string]string{"queue": "fetch-user-queue"}, pointTags(queuePoint))
	assert.EqualValues(t, 5, pointField(queuePoint, "completed"))
}

func pointTags(p *write.Point) map[string]string {
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	return tags
}

func pointField(p *write.Point, key string) interface{} {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestInfluxExporter_WriteError(t *testing.T) {
	e := NewInfluxExporterWithWriter(&fakeWriter{err: errors.New("unreachable")})

	err := e.Export(context.Background(), Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	e.Close()
}

func TestNewInfluxExporter_RequiresTarget(t *testing.T) {
	_, err := NewInfluxExporter(context.Background(), config.InfluxConfig{URL: "http://localhost:8086", Org: "user-data-api"})
	assert.Error(t, err)
}

func TestRedisRejectionStore_Options(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:1"})
	defer rdb.Close()

	tests := []struct {
		name       string
		opts       []RedisStatsOption
		wantBuffer int
		wantTTL    time.Duration
	}{
		{"defaults", nil, 1024, 24 * time.Hour},
		{"custom", []RedisStatsOption{WithStatsBuffer(16), WithStatsTTL(time.Hour)}, 16, time.Hour},
		// 非正数保持默认值，否则无缓冲通道会丢弃所有事件
		{"non-positive ignored", []RedisStatsOption{WithStatsBuffer(0), WithStatsBuffer(-1), WithStatsTTL(0)}, 1024, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRedisRejectionStore(rdb, tt.opts...)
			defer s.Close()

			assert.Equal(t, tt.wantBuffer, cap(s.events))
			assert.Equal(t, tt.wantTTL, s.ttl)
		})
	}
}
