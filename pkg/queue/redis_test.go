//go:build integration

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // 测试库
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})
	return rdb
}

func TestRedisQueue_SubmitRoundTrip(t *testing.T) {
	rdb := newTestRedis(t)
	metrics := newRecordingMetrics()

	q := NewRedisQueue[echoPayload, *echoPayload]("echo", rdb,
		func(ctx context.Context, p echoPayload) (*echoPayload, error) {
			p.Name = p.Name + "!"
			return &p, nil
		},
		DefaultBreakerConfig(), WithWorkers(2), WithMetrics(metrics))
	t.Cleanup(func() { _ = q.Close() })

	got, err := q.Submit(context.Background(), echoPayload{ID: 7, Name: "job"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "job!", got.Name)
	assert.Equal(t, "redis", q.Backend())

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed)
	assert.Equal(t, int64(0), counts.Waiting)
	assert.Equal(t, 1, metrics.count("echo:completed"))
}

func TestRedisQueue_NilResult(t *testing.T) {
	rdb := newTestRedis(t)

	q := NewRedisQueue[int64, *echoPayload]("nil-result", rdb,
		func(ctx context.Context, id int64) (*echoPayload, error) { return nil, nil },
		DefaultBreakerConfig())
	t.Cleanup(func() { _ = q.Close() })

	got, err := q.Submit(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisQueue_HandlerErrorCrossesBoundary(t *testing.T) {
	rdb := newTestRedis(t)

	q := NewRedisQueue[int, int]("failing", rdb,
		func(ctx context.Context, n int) (int, error) { return 0, errors.New("handler exploded") },
		DefaultBreakerConfig())
	t.Cleanup(func() { _ = q.Close() })

	_, err := q.Submit(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")
	assert.False(t, errors.Is(err, ErrEnqueue))

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Failed)
}

func TestRedisQueue_BreakerOpensOnEnqueueFailures(t *testing.T) {
	// 指向不存在的 Redis，入队必然失败
	rdb := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })

	breaker := DefaultBreakerConfig()
	breaker.ReadyToTrip = 2
	q := NewRedisQueue[int, int]("unreachable", rdb, func(ctx context.Context, n int) (int, error) { return n, nil }, breaker)
	t.Cleanup(func() { _ = q.Close() })

	for i := 0; i < 2; i++ {
		_, err := q.Submit(context.Background(), i)
		require.ErrorIs(t, err, ErrEnqueue)
	}
	assert.Equal(t, gobreaker.StateOpen, q.BreakerState())

	_, err := q.Submit(context.Background(), 3)
	assert.ErrorIs(t, err, ErrEnqueue)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestRedisQueue_SubmitAfterClose(t *testing.T) {
	rdb := newTestRedis(t)

	q := NewRedisQueue[int, int]("closed", rdb, func(ctx context.Context, n int) (int, error) { return n, nil }, DefaultBreakerConfig())
	require.NoError(t, q.Close())

	_, err := q.Submit(context.Background(), 1)
	assert.ErrorIs(t, err, ErrEnqueue)
	assert.ErrorIs(t, err, ErrClosed)
}
