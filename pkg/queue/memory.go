package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
)

type result[R any] struct {
	value R
	err   error
}

type memoryJob[T, R any] struct {
	ctx     context.Context
	payload T
	done    chan result[R]
}

// MemoryQueue 进程内任务队列，Redis 不可用时使用
type MemoryQueue[T, R any] struct {
	name    string
	handler Handler[T, R]
	opts    options
	limiter *rate.Limiter
	log     *logrus.Entry

	mu     sync.RWMutex
	closed bool
	jobs   chan *memoryJob[T, R]
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

var _ Queue[int, int] = (*MemoryQueue[int, int])(nil)

// NewMemoryQueue 创建内存队列并启动工作协程
func NewMemoryQueue[T, R any](name string, handler Handler[T, R], opts ...Option) *MemoryQueue[T, R] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue[T, R]{
		name:    name,
		handler: handler,
		opts:    o,
		limiter: o.limiter(),
		log:     o.log.WithFields(logrus.Fields{"queue": name, "backend": "memory"}),
		jobs:    make(chan *memoryJob[T, R], o.buffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < o.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	q.log.WithField("workers", o.workers).Info("in-memory job queue started")
	return q
}

func (q *MemoryQueue[T, R]) Name() string    { return q.name }
func (q *MemoryQueue[T, R]) Backend() string { return "memory" }

// Submit 提交任务并等待结果
func (q *MemoryQueue[T, R]) Submit(ctx context.Context, payload T) (R, error) {
	var zero R
	job := &memoryJob[T, R]{ctx: ctx, payload: payload, done: make(chan result[R], 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return zero, enqueueError(q.name, ErrClosed)
	}
	q.waiting.Add(1)
	select {
	case q.jobs <- job:
		q.mu.RUnlock()
	case <-ctx.Done():
		q.waiting.Add(-1)
		q.mu.RUnlock()
		return zero, ctx.Err()
	}

	select {
	case res := <-job.done:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (q *MemoryQueue[T, R]) worker() {
	defer q.wg.Done()

	for job := range q.jobs {
		if err := q.limiter.Wait(q.ctx); err != nil {
			q.waiting.Add(-1)
			job.done <- result[R]{err: err}
			continue
		}

		q.waiting.Add(-1)
		q.active.Add(1)
		value, err := runHandler(job.ctx, q.name, q.opts.jobTimeout, q.handler, job.payload)
		q.active.Add(-1)

		if err != nil {
			q.failed.Add(1)
			q.opts.metrics.RecordJob(q.name, StatusFailed)
			q.log.WithError(err).Error("job failed")
		} else {
			q.completed.Add(1)
			q.opts.metrics.RecordJob(q.name, StatusCompleted)
		}
		job.done <- result[R]{value: value, err: err}
	}
}

// Counts 任务计数
func (q *MemoryQueue[T, R]) Counts(ctx context.Context) (Counts, error) {
	return Counts{
		Waiting:   q.waiting.Load(),
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}, nil
}

// Close 停止接收新任务，已入队的任务处理完后返回
func (q *MemoryQueue[T, R]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	q.log.Info("in-memory job queue stopped")
	return nil
}
