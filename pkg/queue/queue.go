package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Handler 处理单个任务
type Handler[T, R any] func(ctx context.Context, payload T) (R, error)

// Queue 提交任务并等待处理结果的任务队列
type Queue[T, R any] interface {
	// Name 队列名称
	Name() string
	// Backend 队列实现，memory 或 redis
	Backend() string
	// Submit 提交任务并阻塞到任务完成或 ctx 结束
	Submit(ctx context.Context, payload T) (R, error)
	// Counts 任务计数
	Counts(ctx context.Context) (Counts, error)
	// Close 停止接收新任务并等待工作协程退出
	Close() error
}

// Counts 队列任务计数
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Metrics 任务指标上报
type Metrics interface {
	RecordJob(queue, status string)
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusFallback  = "fallback"
)

var (
	// ErrClosed 队列已关闭
	ErrClosed = errors.New("queue closed")
	// ErrEnqueue 任务未能进入队列，调用方可以安全地降级为直接调用
	ErrEnqueue = errors.New("enqueue failed")
	// ErrResultTimeout 等待任务结果超时，任务可能仍会执行
	ErrResultTimeout = errors.New("timed out waiting for job result")
)

func enqueueError(queue string, cause error) error {
	return fmt.Errorf("%w: queue %s: %w", ErrEnqueue, queue, cause)
}

// PanicError 处理函数 panic
type PanicError struct {
	Queue string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("queue %s: handler panicked: %v", e.Queue, e.Value)
}

type noopMetrics struct{}

func (noopMetrics) RecordJob(string, string) {}

type options struct {
	workers       int
	ratePerSecond float64
	burst         int
	jobTimeout    time.Duration
	buffer        int
	metrics       Metrics
	log           *logrus.Entry
}

func defaultOptions() options {
	return options{
		workers:    1,
		burst:      1,
		jobTimeout: 5 * time.Second,
		buffer:     1024,
		metrics:    noopMetrics{},
	}
}

// Option 队列可选项
type Option func(*options)

// WithWorkers 工作协程数量
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithRateLimit 限制任务处理速率，perSecond <= 0 表示不限速
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.ratePerSecond = perSecond
		if burst > 0 {
			o.burst = burst
		}
	}
}

// WithJobTimeout 单个任务的处理超时
func WithJobTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithBuffer 内存队列缓冲区大小
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithMetrics 任务指标上报
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger 日志器
func WithLogger(entry *logrus.Entry) Option {
	return func(o *options) { o.log = entry }
}

func (o options) limiter() *rate.Limiter {
	if o.ratePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(o.ratePerSecond), o.burst)
}

// runHandler 带超时和 panic 恢复地执行处理函数
func runHandler[T, R any](ctx context.Context, queue string, timeout time.Duration, h Handler[T, R], payload T) (res R, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Queue: queue, Value: r}
		}
	}()
	return h(ctx, payload)
}
