package cache

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
)

// Config 缓存配置
type Config struct {
	MaxSize         int           // 最大条目数
	TTL             time.Duration // 条目存活时间
	CleanupInterval time.Duration // 后台清理间隔，0 表示 TTL/2
}

type options struct {
	name     string
	clock    Clock
	recorder Recorder
	log      *logrus.Entry
}

// Option 缓存可选项
type Option func(*options)

// WithName 设置缓存名称，用于日志
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock 替换时间源
func WithClock(clock Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithRecorder 设置指标上报
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithLogger 设置日志器
func WithLogger(entry *logrus.Entry) Option {
	return func(o *options) { o.log = entry }
}

// Cache 合并并发加载的 TTL/LRU 缓存。
// 同一个 key 同一时刻最多只有一次加载在进行，并发调用方共享结果或错误；加载失败不缓存。
//
// 标量 key 的合并与 == 一致。结构体等复合 key 按 %#v 合并，
// 因此其 %#v 表示必须与 == 一致，不应实现 fmt.GoStringer。
type Cache[K comparable, V any] struct {
	ttl      time.Duration
	maxSize  int
	clock    Clock
	recorder Recorder
	log      *logrus.Entry

	mu    sync.Mutex
	store *lruStore[K, V]

	group singleflight.Group
	stats *StatsTracker

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New 创建缓存并启动后台清理协程
func New[K comparable, V any](config Config, opts ...Option) (*Cache[K, V], error) {
	if config.MaxSize <= 0 {
		return nil, apperror.InvalidConfig("cache max size must be positive, got %d", config.MaxSize)
	}
	if config.TTL <= 0 {
		return nil, apperror.InvalidConfig("cache ttl must be positive, got %s", config.TTL)
	}

	o := options{
		name:     "cache",
		clock:    systemClock{},
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("cache")
	}

	c := &Cache[K, V]{
		ttl:      config.TTL,
		maxSize:  config.MaxSize,
		clock:    o.clock,
		recorder: o.recorder,
		log:      o.log.WithField("cache", o.name),
		store:    newLRUStore[K, V](config.MaxSize),
		stats:    NewStatsTracker(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	interval := config.CleanupInterval
	if interval <= 0 {
		interval = config.TTL / 2
	}
	if interval <= 0 {
		interval = config.TTL
	}
	go c.startCleanup(interval)

	c.log.WithFields(logrus.Fields{
		"max_size": config.MaxSize,
		"ttl":      config.TTL.String(),
	}).Info("cache initialized")

	return c, nil
}

// Get 返回 key 对应的值。命中直接返回；已有加载在进行时等待其结果；
// 否则调用 fetch 加载并写入缓存。
//
// fetch 在与调用方取消信号分离的 context 中执行，调用方 ctx 结束时只是停止等待，
// 加载会继续为其他等待方完成。
func (c *Cache[K, V]) Get(ctx context.Context, key K, fetch FetchFunc[V]) (V, error) {
	start := c.clock.Now()

	if v, ok := c.lookup(key); ok {
		c.recordHit(start)
		return v, nil
	}

	leader := false
	ch := c.group.DoChan(flightKey(key), func() (interface{}, error) {
		leader = true

		// 在上一次加载结束和本次注册之间可能已经写入
		if v, ok := c.lookup(key); ok {
			c.recordHit(start)
			return v, nil
		}

		c.log.WithField("key", key).Debug("cache miss, fetching")
		v, err := c.runFetch(context.WithoutCancel(ctx), key, fetch)
		if err != nil {
			c.log.WithError(err).WithField("key", key).Error("cache fetch failed")
			return nil, err
		}

		c.put(key, v)
		c.recordMiss(start)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		if !leader {
			c.recordHit(start)
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) runFetch(ctx context.Context, key K, fetch FetchFunc[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newFetchPanicError(key, r)
		}
	}()
	return fetch(ctx)
}

func (c *Cache[K, V]) lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.get(key, c.clock.Now())
}

func (c *Cache[K, V]) put(key K, value V) {
	c.mu.Lock()
	evicted := c.store.add(key, value, c.clock.Now().Add(c.ttl))
	size := c.store.len()
	c.mu.Unlock()

	if evicted > 0 {
		c.log.WithField("evicted", evicted).Debug("cache evicted least recently used entries")
	}
	c.recorder.RecordSize(size)
}

// Invalidate 删除单个条目，不影响正在进行的加载
func (c *Cache[K, V]) Invalidate(key K) bool {
	c.mu.Lock()
	removed := c.store.remove(key)
	size := c.store.len()
	c.mu.Unlock()

	c.log.WithField("key", key).Debug("cache entry invalidated")
	c.recorder.RecordSize(size)
	return removed
}

// Clear 清空所有条目，统计数据保留
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.store.clear()
	c.mu.Unlock()

	c.log.Info("cache cleared")
	c.recorder.RecordSize(0)
}

// Cleanup 删除所有过期条目，返回删除数量
func (c *Cache[K, V]) Cleanup() int {
	c.mu.Lock()
	removed := c.store.purge(c.clock.Now())
	size := c.store.len()
	c.mu.Unlock()

	if removed > 0 {
		c.log.WithField("removed", removed).Debug("cache cleanup")
	}
	c.recorder.RecordSize(size)
	return removed
}

// Len 当前条目数（可能包含尚未清理的过期条目）
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.len()
}

// Stats 统计快照
func (c *Cache[K, V]) Stats() Stats {
	return c.stats.Snapshot(c.Len(), c.maxSize)
}

// Shutdown 停止后台清理，可重复调用
func (c *Cache[K, V]) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.done
		c.log.Info("cache shut down")
	})
}

func (c *Cache[K, V]) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ticker.C:
			c.safeCleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache[K, V]) safeCleanup() {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("cache cleanup panicked")
		}
	}()
	c.Cleanup()
}

func (c *Cache[K, V]) recordHit(start time.Time) {
	d := c.clock.Now().Sub(start)
	c.stats.RecordHit(d)
	c.recorder.RecordHit(d)
}

func (c *Cache[K, V]) recordMiss(start time.Time) {
	d := c.clock.Now().Sub(start)
	c.stats.RecordMiss(d)
	c.recorder.RecordMiss(d)
}

// flightKey 把 key 编码为 singleflight 使用的字符串，带类型前缀，
// 对字符串、整数、布尔和浮点数（+0 与 -0 相同）与 == 一致。
func flightKey(key any) string {
	v := reflect.ValueOf(key)
	prefix := fmt.Sprintf("%T:", key)
	switch v.Kind() {
	case reflect.String:
		return prefix + v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return prefix + strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return prefix + strconv.FormatUint(v.Uint(), 10)
	case reflect.Bool:
		return prefix + strconv.FormatBool(v.Bool())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == 0 {
			f = 0
		}
		return prefix + strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return prefix + fmt.Sprintf("%#v", key)
	}
}
