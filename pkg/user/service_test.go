package user

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
	"github.com/hamzashaikhcan/user-data-api/pkg/cache"
	"github.com/hamzashaikhcan/user-data-api/pkg/queue"
)

// countingRepository 统计对底层存储的访问次数
type countingRepository struct {
	Repository
	finds   atomic.Int32
	creates atomic.Int32
}

func (r *countingRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	r.finds.Add(1)
	return r.Repository.FindByID(ctx, id)
}

func (r *countingRepository) Create(ctx context.Context, in CreateInput) (*User, error) {
	r.creates.Add(1)
	return r.Repository.Create(ctx, in)
}

type jobMetrics struct {
	mu   sync.Mutex
	jobs map[string]int
}

func (m *jobMetrics) RecordJob(queue, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs == nil {
		m.jobs = make(map[string]int)
	}
	m.jobs[queue+":"+status]++
}

func (m *jobMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[key]
}

func newTestService(t *testing.T, delay time.Duration) (*Service, *countingRepository, *Jobs) {
	t.Helper()
	repo := &countingRepository{Repository: NewMemoryRepository(delay)}
	jobs := NewJobs(repo, JobsConfig{Options: []queue.Option{queue.WithWorkers(4)}})
	t.Cleanup(func() { _ = jobs.Close() })

	c, err := cache.New[int64, *User](cache.Config{MaxSize: 100, TTL: time.Minute, CleanupInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	return NewService(repo, jobs, c), repo, jobs
}

func TestService_GetByID_CachesResult(t *testing.T) {
	svc, repo, _ := newTestService(t, 0)
	ctx := context.Background()

	u, err := svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "John Doe", u.Name)

	u, err = svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "John Doe", u.Name)

	assert.Equal(t, int32(1), repo.finds.Load())
	stats := svc.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestService_GetByID_ConcurrentRequestsShareOneFetch(t *testing.T) {
	svc, repo, _ := newTestService(t, 50*time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := svc.GetByID(ctx, 2)
			assert.NoError(t, err)
			assert.Equal(t, "Jane Smith", u.Name)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), repo.finds.Load())
}

func TestService_GetByID_NotFoundIsNotCached(t *testing.T) {
	svc, repo, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.GetByID(ctx, 999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.NotFound("")))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, "User with ID 999 not found", appErr.Message)
	assert.Equal(t, 404, apperror.StatusOf(err))

	_, err = svc.GetByID(ctx, 999)
	require.Error(t, err)
	assert.Equal(t, int32(2), repo.finds.Load())
	assert.Equal(t, 0, svc.CacheStats().Size)
}

func TestService_Create(t *testing.T) {
	svc, repo, _ := newTestService(t, 0)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateInput{Name: " Bob ", Email: "Bob@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), u.ID)
	assert.Equal(t, "Bob", u.Name)
	assert.Equal(t, "bob@example.com", u.Email)

	// 新用户已写入缓存
	got, err := svc.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, int32(0), repo.finds.Load())
	assert.Equal(t, int32(1), repo.creates.Load())
}

func TestService_CreateValidation(t *testing.T) {
	svc, repo, _ := newTestService(t, 0)

	_, err := svc.Create(context.Background(), CreateInput{Name: "Bob", Email: "not-an-email"})
	require.Error(t, err)
	assert.Equal(t, 400, apperror.StatusOf(err))
	assert.Equal(t, int32(0), repo.creates.Load())
}

func TestService_ListAndCacheControl(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	ctx := context.Background()

	users, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	_, err = svc.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.True(t, svc.InvalidateUser(3))
	assert.False(t, svc.InvalidateUser(3))

	_, _ = svc.GetByID(ctx, 1)
	svc.ClearCache()
	stats := svc.CacheStats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestService_ListReadsRepositoryDirectly(t *testing.T) {
	svc, repo, jobs := newTestService(t, 0)
	ctx := context.Background()

	users, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, int64(1), users[0].ID)

	// 不占用缓存和任务队列
	stats := svc.CacheStats()
	assert.Equal(t, int64(0), stats.Hits+stats.Misses)
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int32(0), repo.finds.Load())

	status, err := jobs.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.FetchUserQueue.Completed)
}

func TestJobs_FallbackWhenEnqueueFails(t *testing.T) {
	repo := &countingRepository{Repository: NewMemoryRepository(0)}
	metrics := &jobMetrics{}
	jobs := NewJobs(repo, JobsConfig{Metrics: metrics})
	// 关闭后入队必然失败
	require.NoError(t, jobs.Close())

	u, err := jobs.FetchUser(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "John Doe", u.Name)

	created, err := jobs.CreateUser(context.Background(), CreateInput{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), created.ID)

	assert.Equal(t, 1, metrics.count(FetchQueueName+":fallback"))
	assert.Equal(t, 1, metrics.count(CreateQueueName+":fallback"))
}

func TestJobs_HandlerErrorDoesNotFallBack(t *testing.T) {
	boom := errors.New("database down")
	repo := &failingRepository{err: boom}
	jobs := NewJobs(repo, JobsConfig{})
	t.Cleanup(func() { _ = jobs.Close() })

	_, err := jobs.FetchUser(context.Background(), 1)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestJobs_Status(t *testing.T) {
	_, _, jobs := newTestService(t, 0)
	ctx := context.Background()

	_, err := jobs.FetchUser(ctx, 1)
	require.NoError(t, err)

	status, err := jobs.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsUsingRedis)
	assert.Equal(t, int64(1), status.FetchUserQueue.Completed)
	assert.Equal(t, int64(0), status.CreateUserQueue.Completed)

	counts, err := jobs.Counts(ctx)
	require.NoError(t, err)
	assert.Contains(t, counts, FetchQueueName)
	assert.Contains(t, counts, CreateQueueName)
}

type failingRepository struct {
	err   error
	calls atomic.Int32
}

func (r *failingRepository) FindByID(context.Context, int64) (*User, error) {
	r.calls.Add(1)
	return nil, r.err
}

func (r *failingRepository) Create(context.Context, CreateInput) (*User, error) {
	r.calls.Add(1)
	return nil, r.err
}

func (r *failingRepository) List(context.Context) ([]User, error) {
	return nil, r.err
}
