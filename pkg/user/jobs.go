package user

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
	"github.com/hamzashaikhcan/user-data-api/pkg/queue"
)

const (
	FetchQueueName  = "fetch-user-queue"
	CreateQueueName = "create-user-queue"
)

// JobsConfig 用户任务队列配置
type JobsConfig struct {
	Redis   redis.Cmdable // 为 nil 时使用内存队列
	Breaker queue.BreakerConfig
	Metrics queue.Metrics
	Options []queue.Option
}

// QueueStatus 两个用户队列的状态
type QueueStatus struct {
	FetchUserQueue  queue.Counts `json:"fetchUserQueue"`
	CreateUserQueue queue.Counts `json:"createUserQueue"`
	IsUsingRedis    bool         `json:"isUsingRedis"`
}

// Jobs 通过任务队列访问用户存储，入队失败时直接调用存储
type Jobs struct {
	repo    Repository
	fetch   queue.Queue[int64, *User]
	create  queue.Queue[CreateInput, *User]
	metrics queue.Metrics
	redis   bool
	log     *logrus.Entry
}

// NewJobs 创建用户查询和创建队列
func NewJobs(repo Repository, cfg JobsConfig) *Jobs {
	j := &Jobs{
		repo:    repo,
		metrics: cfg.Metrics,
		redis:   cfg.Redis != nil,
		log:     logger.WithComponent("user-jobs"),
	}
	if j.metrics == nil {
		j.metrics = noopJobMetrics{}
	}

	opts := append([]queue.Option{queue.WithMetrics(cfg.Metrics)}, cfg.Options...)

	fetch := func(ctx context.Context, id int64) (*User, error) {
		return repo.FindByID(ctx, id)
	}
	create := func(ctx context.Context, in CreateInput) (*User, error) {
		return repo.Create(ctx, in)
	}

	if j.redis {
		j.fetch = queue.NewRedisQueue[int64, *User](FetchQueueName, cfg.Redis, fetch, cfg.Breaker, opts...)
		j.create = queue.NewRedisQueue[CreateInput, *User](CreateQueueName, cfg.Redis, create, cfg.Breaker, opts...)
	} else {
		j.fetch = queue.NewMemoryQueue[int64, *User](FetchQueueName, fetch, opts...)
		j.create = queue.NewMemoryQueue[CreateInput, *User](CreateQueueName, create, opts...)
	}

	j.log.WithField("redis", j.redis).Info("user job queues initialized")
	return j
}

// FetchUser 查询用户，不存在时返回 nil, nil
func (j *Jobs) FetchUser(ctx context.Context, id int64) (*User, error) {
	u, err := j.fetch.Submit(ctx, id)
	if errors.Is(err, queue.ErrEnqueue) {
		j.log.WithError(err).WithField("user_id", id).Warn("fetch job not queued, querying repository directly")
		j.metrics.RecordJob(FetchQueueName, queue.StatusFallback)
		return j.repo.FindByID(ctx, id)
	}
	return u, err
}

// CreateUser 创建用户
func (j *Jobs) CreateUser(ctx context.Context, in CreateInput) (*User, error) {
	u, err := j.create.Submit(ctx, in)
	if errors.Is(err, queue.ErrEnqueue) {
		j.log.WithError(err).Warn("create job not queued, writing repository directly")
		j.metrics.RecordJob(CreateQueueName, queue.StatusFallback)
		return j.repo.Create(ctx, in)
	}
	return u, err
}

// Status 读取两个队列的计数
func (j *Jobs) Status(ctx context.Context) (QueueStatus, error) {
	status := QueueStatus{IsUsingRedis: j.redis}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := j.fetch.Counts(gctx)
		status.FetchUserQueue = c
		return err
	})
	g.Go(func() error {
		c, err := j.create.Counts(gctx)
		status.CreateUserQueue = c
		return err
	})
	if err := g.Wait(); err != nil {
		return QueueStatus{IsUsingRedis: j.redis}, err
	}
	return status, nil
}

// Counts 按队列名返回计数
func (j *Jobs) Counts(ctx context.Context) (map[string]queue.Counts, error) {
	s, err := j.Status(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]queue.Counts{
		FetchQueueName:  s.FetchUserQueue,
		CreateQueueName: s.CreateUserQueue,
	}, nil
}

// Close 关闭两个队列
func (j *Jobs) Close() error {
	return errors.Join(j.fetch.Close(), j.create.Close())
}

type noopJobMetrics struct{}

func (noopJobMetrics) RecordJob(string, string) {}
