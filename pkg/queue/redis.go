package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
)

// BreakerConfig 入队熔断器配置
type BreakerConfig struct {
	MaxRequests uint32        // 半开状态下允许的请求数
	Interval    time.Duration // 闭合状态下计数清零周期
	Timeout     time.Duration // 打开后多久进入半开
	ReadyToTrip uint32        // 连续失败多少次打开
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
	}
}

type envelope struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type resultEnvelope struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// RedisQueue 基于 Redis 列表的任务队列。
//
// 任务以 JSON 信封 LPUSH 到 queue:<name>:wait，任意实例的工作协程 BRPOP 取出处理，
// 结果写入 queue:<name>:result:<id>，提交方 BLPOP 等待。入队经过熔断器保护。
type RedisQueue[T, R any] struct {
	name    string
	rdb     redis.Cmdable
	handler Handler[T, R]
	opts    options
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *logrus.Entry

	pollTimeout time.Duration
	resultTTL   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	active atomic.Int64
}

var _ Queue[int, int] = (*RedisQueue[int, int])(nil)

// NewRedisQueue 创建 Redis 队列并启动工作协程
func NewRedisQueue[T, R any](name string, rdb redis.Cmdable, handler Handler[T, R], breaker BreakerConfig, opts ...Option) *RedisQueue[T, R] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("queue")
	}
	log := o.log.WithFields(logrus.Fields{"queue": name, "backend": "redis"})

	settings := gobreaker.Settings{
		Name:        "queue:" + name,
		MaxRequests: breaker.MaxRequests,
		Interval:    breaker.Interval,
		Timeout:     breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.ReadyToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("queue circuit breaker state changed")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue[T, R]{
		name:        name,
		rdb:         rdb,
		handler:     handler,
		opts:        o,
		breaker:     gobreaker.NewCircuitBreaker(settings),
		limiter:     o.limiter(),
		log:         log,
		pollTimeout: time.Second,
		resultTTL:   o.jobTimeout * 2,
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < o.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	log.WithField("workers", o.workers).Info("redis job queue started")
	return q
}

func (q *RedisQueue[T, R]) Name() string    { return q.name }
func (q *RedisQueue[T, R]) Backend() string { return "redis" }

func (q *RedisQueue[T, R]) waitKey() string  { return "queue:" + q.name + ":wait" }
func (q *RedisQueue[T, R]) statsKey() string { return "queue:" + q.name + ":stats" }
func (q *RedisQueue[T, R]) resultKey(id string) string {
	return "queue:" + q.name + ":result:" + id
}

// BreakerState 入队熔断器状态
func (q *RedisQueue[T, R]) BreakerState() gobreaker.State {
	return q.breaker.State()
}

// Submit 入队并等待任意实例返回的结果。入队失败时返回包装了 ErrEnqueue 的错误。
func (q *RedisQueue[T, R]) Submit(ctx context.Context, payload T) (R, error) {
	var zero R
	if q.ctx.Err() != nil {
		return zero, enqueueError(q.name, ErrClosed)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return zero, fmt.Errorf("queue %s: encode payload: %w", q.name, err)
	}
	env := envelope{ID: uuid.NewString(), Payload: raw, EnqueuedAt: time.Now().UTC()}
	body, err := json.Marshal(env)
	if err != nil {
		return zero, fmt.Errorf("queue %s: encode job: %w", q.name, err)
	}

	_, err = q.breaker.Execute(func() (interface{}, error) {
		return nil, q.rdb.LPush(ctx, q.waitKey(), body).Err()
	})
	if err != nil {
		return zero, enqueueError(q.name, err)
	}

	q.log.WithField("job_id", env.ID).Debug("job enqueued")

	// 结果等待比处理超时多留出一个轮询周期
	res, err := q.rdb.BLPop(ctx, q.opts.jobTimeout+q.pollTimeout, q.resultKey(env.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return zero, fmt.Errorf("queue %s job %s: %w", q.name, env.ID, ErrResultTimeout)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, fmt.Errorf("queue %s job %s: wait result: %w", q.name, env.ID, err)
	}

	// BLPOP 返回 [key, value]
	var out resultEnvelope
	if err := json.Unmarshal([]byte(res[1]), &out); err != nil {
		return zero, fmt.Errorf("queue %s job %s: decode result: %w", q.name, env.ID, err)
	}
	if !out.OK {
		return zero, errors.New(out.Error)
	}

	var value R
	if len(out.Value) > 0 {
		if err := json.Unmarshal(out.Value, &value); err != nil {
			return zero, fmt.Errorf("queue %s job %s: decode value: %w", q.name, env.ID, err)
		}
	}
	return value, nil
}

func (q *RedisQueue[T, R]) worker() {
	defer q.wg.Done()

	for {
		if q.ctx.Err() != nil {
			return
		}

		res, err := q.rdb.BRPop(q.ctx, q.pollTimeout, q.waitKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			q.log.WithError(err).Warn("failed to poll jobs, retrying")
			select {
			case <-time.After(time.Second):
			case <-q.ctx.Done():
				return
			}
			continue
		}

		if err := q.limiter.Wait(q.ctx); err != nil {
			// 关闭期间取出的任务放回队列
			_ = q.rdb.RPush(context.Background(), q.waitKey(), res[1]).Err()
			return
		}
		q.process(res[1])
	}
}

func (q *RedisQueue[T, R]) process(body string) {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		q.log.WithError(err).Error("dropping malformed job")
		q.opts.metrics.RecordJob(q.name, StatusFailed)
		return
	}

	log := q.log.WithField("job_id", env.ID)

	var out resultEnvelope
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		out = resultEnvelope{Error: fmt.Sprintf("decode payload: %v", err)}
	} else {
		q.active.Add(1)
		value, err := runHandler(context.Background(), q.name, q.opts.jobTimeout, q.handler, payload)
		q.active.Add(-1)

		if err != nil {
			out = resultEnvelope{Error: err.Error()}
		} else if raw, err := json.Marshal(value); err != nil {
			out = resultEnvelope{Error: fmt.Sprintf("encode result: %v", err)}
		} else {
			out = resultEnvelope{OK: true, Value: raw}
		}
	}

	status := StatusCompleted
	if !out.OK {
		status = StatusFailed
		log.WithField("error", out.Error).Error("job failed")
	}
	q.opts.metrics.RecordJob(q.name, status)

	encoded, _ := json.Marshal(out)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := q.rdb.Pipeline()
	pipe.LPush(ctx, q.resultKey(env.ID), encoded)
	pipe.Expire(ctx, q.resultKey(env.ID), q.resultTTL)
	pipe.HIncrBy(ctx, q.statsKey(), status, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).Error("failed to publish job result")
	}
}

// Counts 等待数取自 Redis，完成和失败数为所有实例的累计，执行中为本实例
func (q *RedisQueue[T, R]) Counts(ctx context.Context) (Counts, error) {
	waiting, err := q.rdb.LLen(ctx, q.waitKey()).Result()
	if err != nil {
		return Counts{}, err
	}

	stats, err := q.rdb.HGetAll(ctx, q.statsKey()).Result()
	if err != nil {
		return Counts{}, err
	}

	return Counts{
		Waiting:   waiting,
		Active:    q.active.Load(),
		Completed: parseCount(stats[StatusCompleted]),
		Failed:    parseCount(stats[StatusFailed]),
	}, nil
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Close 停止工作协程，进行中的任务处理完后返回
func (q *RedisQueue[T, R]) Close() error {
	q.once.Do(func() {
		q.cancel()
		q.wg.Wait()
		q.log.Info("redis job queue stopped")
	})
	return nil
}
