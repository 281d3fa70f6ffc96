package ratelimit

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
)

// 突发窗口内的计数桶宽度，同一秒内的请求合并到一个桶
const bucketWidth = time.Second

// DefaultSweepProbability 每个请求触发一次状态压缩的概率
const DefaultSweepProbability = 0.01

// Config 限流配置
type Config struct {
	Max              int           // 固定窗口内允许的请求数
	Window           time.Duration // 固定窗口长度
	BurstMax         int           // 突发窗口内允许的请求数
	BurstWindow      time.Duration // 突发窗口长度
	SweepProbability float64       // 0 表示使用 DefaultSweepProbability
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.Max <= 0 || c.Window <= 0 {
		return apperror.InvalidConfig("rate limit max and window must be positive, got %d per %s", c.Max, c.Window)
	}
	if c.BurstMax <= 0 || c.BurstWindow <= 0 {
		return apperror.InvalidConfig("burst max and window must be positive, got %d per %s", c.BurstMax, c.BurstWindow)
	}
	if c.SweepProbability < 0 || c.SweepProbability > 1 {
		return apperror.InvalidConfig("sweep probability must be within [0, 1], got %v", c.SweepProbability)
	}
	return nil
}

// Scale 按倍数放大两级配额，窗口长度不变
func (c Config) Scale(factor int) Config {
	c.Max *= factor
	c.BurstMax *= factor
	return c
}

type subWindow struct {
	start time.Time
	count int
}

// clientState 单个客户端的限流状态，由自身的锁保护
type clientState struct {
	mu sync.Mutex

	windows []subWindow // 突发窗口内的计数桶，按开始时间升序

	windowStart time.Time // 固定窗口开始时间
	windowCount int

	removed bool // 已被压缩移除，持有者需要重新获取
}

func (s *clientState) pruneBursts(now time.Time, burstWindow time.Duration) int {
	active := s.windows[:0]
	sum := 0
	for _, w := range s.windows {
		if now.Sub(w.start) < burstWindow {
			active = append(active, w)
			sum += w.count
		}
	}
	s.windows = active
	return sum
}

func (s *clientState) idle(now time.Time, cfg Config) bool {
	s.pruneBursts(now, cfg.BurstWindow)
	if len(s.windows) > 0 {
		return false
	}
	return s.windowStart.IsZero() || now.Sub(s.windowStart) >= cfg.Window
}

type options struct {
	name     string
	clock    Clock
	observer Observer
	log      *logrus.Entry
	random   func() float64
}

// Option 限流器可选项
type Option func(*options)

// WithName 设置限流器名称，用于日志
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock 替换时间源
func WithClock(clock Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithObserver 设置拒绝事件上报
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithLogger 设置日志器
func WithLogger(entry *logrus.Entry) Option {
	return func(o *options) { o.log = entry }
}

// WithRandom 替换压缩触发使用的随机源，返回值应在 [0, 1)
func WithRandom(random func() float64) Option {
	return func(o *options) { o.random = random }
}

// Limiter 两级限流器：先判定突发窗口，再判定固定窗口总量。
//
// 客户端表的锁只在查找、插入和压缩删除时持有，窗口计数的修改由每个客户端自己的锁保护。
type Limiter struct {
	cfg      Config
	clock    Clock
	observer Observer
	log      *logrus.Entry
	random   func() float64

	mu      sync.RWMutex
	clients map[string]*clientState

	compactMu  sync.Mutex
	compacting atomic.Bool
	wg         sync.WaitGroup

	// closeMu 保证 Close 之后不再 wg.Add
	closeMu sync.Mutex
	closed  bool

	admitted      atomic.Int64
	rejectedBurst atomic.Int64
	rejectedQuota atomic.Int64
	compactions   atomic.Int64
}

// New 创建限流器，配置非法时返回错误
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SweepProbability == 0 {
		cfg.SweepProbability = DefaultSweepProbability
	}

	o := options{
		name:     "ratelimit",
		clock:    systemClock{},
		observer: noopObserver{},
		random:   rand.Float64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("ratelimit")
	}

	return &Limiter{
		cfg:      cfg,
		clock:    o.clock,
		observer: o.observer,
		log:      o.log.WithField("limiter", o.name),
		random:   o.random,
		clients:  make(map[string]*clientState),
	}, nil
}

// Config 返回生效的配置
func (l *Limiter) Config() Config {
	return l.cfg
}

// Admit 只按客户端标识判定
func (l *Limiter) Admit(identity string) Decision {
	return l.Check(Request{Identity: identity})
}

// Check 判定一次请求是否放行，拒绝时上报事件
func (l *Limiter) Check(req Request) Decision {
	if req.Identity == "" {
		req.Identity = "unknown"
	}
	now := l.clock.Now()

	var (
		d     Decision
		count int
	)
	for {
		s := l.state(req.Identity)
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			continue
		}
		d, count = l.decide(s, now)
		s.mu.Unlock()
		break
	}

	if d.Allowed {
		l.admitted.Add(1)
	} else {
		l.reject(req, d, count, now)
	}

	l.maybeCompact()
	return d
}

func (l *Limiter) state(identity string) *clientState {
	l.mu.RLock()
	s, ok := l.clients[identity]
	l.mu.RUnlock()
	if ok {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok = l.clients[identity]; !ok {
		s = &clientState{}
		l.clients[identity] = s
	}
	return s
}

// decide 调用方持有 s.mu
func (l *Limiter) decide(s *clientState, now time.Time) (Decision, int) {
	burstCount := s.pruneBursts(now, l.cfg.BurstWindow)
	if burstCount >= l.cfg.BurstMax {
		retry := l.cfg.BurstWindow - now.Sub(s.windows[0].start)
		return Decision{
			Gate:       GateBurst,
			RetryAfter: retry,
			Limit:      l.cfg.Max,
			Remaining:  l.remaining(s, now),
			ResetAfter: l.resetAfter(s, now),
		}, burstCount
	}

	if n := len(s.windows); n > 0 && now.Sub(s.windows[n-1].start) < bucketWidth {
		s.windows[n-1].count++
	} else {
		s.windows = append(s.windows, subWindow{start: now, count: 1})
	}

	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= l.cfg.Window {
		s.windowStart = now
		s.windowCount = 0
	}
	reset := l.resetAfter(s, now)

	if s.windowCount >= l.cfg.Max {
		return Decision{
			Gate:       GateQuota,
			RetryAfter: reset,
			Limit:      l.cfg.Max,
			ResetAfter: reset,
		}, s.windowCount
	}

	s.windowCount++
	return Decision{
		Allowed:    true,
		Limit:      l.cfg.Max,
		Remaining:  l.cfg.Max - s.windowCount,
		ResetAfter: reset,
	}, s.windowCount
}

func (l *Limiter) remaining(s *clientState, now time.Time) int {
	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= l.cfg.Window {
		return l.cfg.Max
	}
	return l.cfg.Max - s.windowCount
}

func (l *Limiter) resetAfter(s *clientState, now time.Time) time.Duration {
	if s.windowStart.IsZero() {
		return l.cfg.Window
	}
	if d := l.cfg.Window - now.Sub(s.windowStart); d > 0 {
		return d
	}
	return 0
}

func (l *Limiter) reject(req Request, d Decision, count int, now time.Time) {
	limit := l.cfg.Max
	msg := "Rate limit exceeded"
	if d.Gate == GateBurst {
		l.rejectedBurst.Add(1)
		limit = l.cfg.BurstMax
		msg = "Burst rate limit exceeded"
	} else {
		l.rejectedQuota.Add(1)
	}

	l.log.WithFields(logrus.Fields{
		"ip":     req.Identity,
		"method": req.Method,
		"path":   req.Path,
		"gate":   string(d.Gate),
		"count":  count,
		"limit":  limit,
	}).Warn(msg)

	l.observer.RecordRejection(Rejection{
		Gate:     d.Gate,
		Identity: req.Identity,
		Method:   req.Method,
		Path:     req.Path,
		Count:    count,
		Limit:    limit,
		At:       now,
	})
}

func (l *Limiter) maybeCompact() {
	if l.random() >= l.cfg.SweepProbability {
		return
	}
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return
	}
	if !l.compacting.CompareAndSwap(false, true) {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.compacting.Store(false)
		defer func() {
			if r := recover(); r != nil {
				l.log.WithField("panic", r).Error("rate limit compaction panicked")
			}
		}()
		l.Compact()
	}()
}

// Compact 移除突发窗口已空且固定窗口已过期的客户端，返回移除数量。
// 与同一客户端的并发判定是安全的：被移除的状态会让持有者重新获取。
func (l *Limiter) Compact() int {
	l.compactMu.Lock()
	defer l.compactMu.Unlock()

	now := l.clock.Now()

	type candidate struct {
		identity string
		state    *clientState
	}
	l.mu.RLock()
	candidates := make([]candidate, 0, len(l.clients))
	for id, s := range l.clients {
		candidates = append(candidates, candidate{identity: id, state: s})
	}
	l.mu.RUnlock()

	removed := 0
	for _, c := range candidates {
		c.state.mu.Lock()
		if c.state.idle(now, l.cfg) {
			l.mu.Lock()
			if l.clients[c.identity] == c.state {
				delete(l.clients, c.identity)
			}
			l.mu.Unlock()
			c.state.removed = true
			removed++
		}
		c.state.mu.Unlock()
	}

	l.compactions.Add(1)
	l.log.WithFields(logrus.Fields{
		"removed":   removed,
		"remaining": len(candidates) - removed,
	}).Debug("rate limit cleanup complete")
	return removed
}

// Stats 统计快照
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	tracked := len(l.clients)
	l.mu.RUnlock()

	return Stats{
		TrackedIdentities: tracked,
		Admitted:          l.admitted.Load(),
		RejectedBurst:     l.rejectedBurst.Load(),
		RejectedQuota:     l.rejectedQuota.Load(),
		Compactions:       l.compactions.Load(),
	}
}

// Close 停止后续的后台压缩并等待进行中的压缩结束，可重复调用
func (l *Limiter) Close() {
	l.closeMu.Lock()
	l.closed = true
	l.closeMu.Unlock()

	l.wg.Wait()
}
