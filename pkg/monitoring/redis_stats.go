package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
)

// RedisRejectionStore 把限流拒绝事件累计到 Redis 哈希中，便于多个实例汇总查看。
//
// 写入在后台协程中完成，RecordRejection 不会阻塞请求；缓冲区满时丢弃事件。
type RedisRejectionStore struct {
	rdb       redis.Cmdable
	prefix    string
	ttl       time.Duration // 只作用于按分钟和按客户端的键，总计不过期
	trackKeys bool
	timeout   time.Duration

	mu      sync.RWMutex
	closed  bool
	events  chan ratelimit.Rejection
	done    chan struct{}
	dropped atomic.Int64

	log *logrus.Entry
}

// RedisStatsOption 可选项
type RedisStatsOption func(*RedisRejectionStore)

// WithStatsPrefix 键前缀，默认 ratelimit:stats
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisRejectionStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStatsTTL 按分钟统计键的过期时间
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisRejectionStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithStatsTrackKeys 是否按客户端记录，注意键数量随客户端增长
func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisRejectionStore) { s.trackKeys = track }
}

// WithStatsBuffer 后台写入缓冲区大小，缓冲区满时丢弃事件，非正数保持默认值
func WithStatsBuffer(n int) RedisStatsOption {
	return func(s *RedisRejectionStore) {
		if n > 0 {
			s.events = make(chan ratelimit.Rejection, n)
		}
	}
}

// NewRedisRejectionStore 创建并启动后台写入协程
func NewRedisRejectionStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisRejectionStore {
	s := &RedisRejectionStore{
		rdb:     rdb,
		prefix:  "ratelimit:stats",
		ttl:     24 * time.Hour,
		timeout: 2 * time.Second,
		events:  make(chan ratelimit.Rejection, 1024),
		done:    make(chan struct{}),
		log:     logger.WithComponent("ratelimit-stats"),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

// RecordRejection 实现 ratelimit.Observer
func (s *RedisRejectionStore) RecordRejection(r ratelimit.Rejection) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.events <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *RedisRejectionStore) run() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.Record(ctx, ev); err != nil {
			s.log.WithError(err).Warn("failed to record rate limit rejection")
		}
		cancel()
	}
}

// Record 同步写入一条拒绝事件
func (s *RedisRejectionStore) Record(ctx context.Context, ev ratelimit.Rejection) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Gate)
	if field == "" {
		field = "unknown"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackKeys && ev.Identity != "" {
		key := s.prefix + ":key:" + ev.Identity
		pipe.HIncrBy(ctx, key, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals 读取累计拒绝数，按限流层分组
func (s *RedisRejectionStore) Totals(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(raw))
	for gate, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter %s=%q: %w", gate, v, err)
		}
		totals[gate] = n
	}
	return totals, nil
}

// Dropped 因缓冲区满而丢弃的事件数
func (s *RedisRejectionStore) Dropped() int64 {
	return s.dropped.Load()
}

// Close 停止接收并等待缓冲区写完
func (s *RedisRejectionStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	<-s.done
}
