package user

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
	"github.com/hamzashaikhcan/user-data-api/pkg/cache"
	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
)

// Service 用户业务逻辑。单个用户查询经过缓存，缓存未命中时通过任务队列加载。
type Service struct {
	repo  Repository
	jobs  *Jobs
	cache *cache.Cache[int64, *User]
	log   *logrus.Entry
}

// NewService 创建用户服务
func NewService(repo Repository, jobs *Jobs, c *cache.Cache[int64, *User]) *Service {
	return &Service{
		repo:  repo,
		jobs:  jobs,
		cache: c,
		log:   logger.WithComponent("user-service"),
	}
}

// GetByID 查询用户。不存在时返回 NotFound 错误，该结果不会被缓存。
func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.cache.Get(ctx, id, func(ctx context.Context) (*User, error) {
		u, err := s.jobs.FetchUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, apperror.NotFound(fmt.Sprintf("User with ID %d not found", id))
		}
		return u, nil
	})
}

// Create 校验并创建用户，随后写入缓存
func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	u, err := s.jobs.CreateUser(ctx, in)
	if err != nil {
		return nil, err
	}

	created := u
	if _, err := s.cache.Get(ctx, u.ID, func(context.Context) (*User, error) { return created, nil }); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("failed to warm cache with new user")
	}

	s.log.WithField("user_id", u.ID).Info("user created")
	return u, nil
}

// List 返回全部用户，直接读取存储，不经过缓存和任务队列。
// 列表结果不按单个 id 缓存，经过队列只会增加一次往返。
func (s *Service) List(ctx context.Context) ([]User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// InvalidateUser 移除单个用户的缓存
func (s *Service) InvalidateUser(id int64) bool {
	return s.cache.Invalidate(id)
}

// ClearCache 清空用户缓存，统计保留
func (s *Service) ClearCache() {
	s.cache.Clear()
}

// CacheStats 缓存统计
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// QueueStatus 用户队列状态
func (s *Service) QueueStatus(ctx context.Context) (QueueStatus, error) {
	return s.jobs.Status(ctx)
}
