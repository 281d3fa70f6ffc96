package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s := New()

	assert.NotNil(t, s.cron)
	assert.NotNil(t, s.jobs)
	assert.NotNil(t, s.logger)
	assert.Equal(t, 5*time.Minute, s.timeout)
	assert.Empty(t, s.Jobs())
}

func TestScheduler_AddJobValidation(t *testing.T) {
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		add     func(s *Scheduler) error
		wantErr bool
	}{
		{"有效间隔", func(s *Scheduler) error { return s.Every("a", time.Second, noop) }, false},
		{"有效 cron 表达式", func(s *Scheduler) error { return s.AddJob("b", "*/5 * * * * *", noop) }, false},
		{"五段表达式", func(s *Scheduler) error { return s.AddJob("c", "0 * * * *", noop) }, false},
		{"无效表达式", func(s *Scheduler) error { return s.AddJob("d", "invalid-cron", noop) }, true},
		{"间隔为零", func(s *Scheduler) error { return s.Every("e", 0, noop) }, true},
		{"名称为空", func(s *Scheduler) error { return s.Every("", time.Second, noop) }, true},
		{"缺少函数", func(s *Scheduler) error { return s.Every("f", time.Second, nil) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.add(New())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_DuplicateAndRemove(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Every("metrics", time.Second, noop))
	assert.Error(t, s.Every("metrics", time.Second, noop))

	info, ok := s.GetJob("metrics")
	require.True(t, ok)
	assert.Equal(t, "@every 1s", info.Schedule)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, JobStatusPending, info.Status)

	require.NoError(t, s.RemoveJob("metrics"))
	assert.Error(t, s.RemoveJob("metrics"))
	_, ok = s.GetJob("metrics")
	assert.False(t, ok)
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	s := New()
	var runs atomic.Int32
	require.NoError(t, s.Every("tick", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop(time.Second)

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.GreaterOrEqual(t, jobs[0].RunCount, int64(1))
	assert.NotNil(t, jobs[0].LastRun)
	assert.NotNil(t, jobs[0].NextRun)
}

func TestScheduler_ErrorsAndPanicsAreRecorded(t *testing.T) {
	s := New()
	require.NoError(t, s.Every("failing", time.Hour, func(context.Context) error {
		return errors.New("export failed")
	}))
	require.NoError(t, s.Every("panicking", time.Hour, func(context.Context) error {
		panic("boom")
	}))

	require.NoError(t, s.RunJob("failing"))
	require.NoError(t, s.RunJob("panicking"))
	assert.Error(t, s.RunJob("missing"))

	require.Eventually(t, func() bool {
		a, _ := s.GetJob("failing")
		b, _ := s.GetJob("panicking")
		return a.ErrorCount == 1 && b.ErrorCount == 1
	}, time.Second, 10*time.Millisecond)

	failing, _ := s.GetJob("failing")
	assert.Equal(t, JobStatusError, failing.Status)
	assert.Equal(t, "export failed", failing.LastError)

	panicking, _ := s.GetJob("panicking")
	assert.Contains(t, panicking.LastError, "boom")

	// 失败后仍可再次执行
	require.NoError(t, s.RunJob("failing"))
	require.Eventually(t, func() bool {
		a, _ := s.GetJob("failing")
		return a.RunCount == 2
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := New()
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Every("slow", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}))

	require.NoError(t, s.RunJob("slow"))
	require.Eventually(t, func() bool {
		j, _ := s.GetJob("slow")
		return j.Status == JobStatusRunning
	}, time.Second, 5*time.Millisecond)

	s.executeJob(s.jobs["slow"])
	assert.Equal(t, int32(1), runs.Load())

	close(release)
}

func TestScheduler_StopWaitsForRunningJobs(t *testing.T) {
	s := New()
	var finished atomic.Bool
	started := make(chan struct{})
	require.NoError(t, s.Every("work", time.Hour, func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	s.Start()
	require.NoError(t, s.RunJob("work"))
	<-started

	s.Stop(time.Second)
	assert.True(t, finished.Load())
}

func TestScheduler_JobTimeoutCancelsContext(t *testing.T) {
	s := New(WithJobTimeout(20 * time.Millisecond))
	require.NoError(t, s.Every("bounded", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	require.NoError(t, s.RunJob("bounded"))
	require.Eventually(t, func() bool {
		j, _ := s.GetJob("bounded")
		return j.ErrorCount == 1
	}, time.Second, 10*time.Millisecond)

	j, _ := s.GetJob("bounded")
	assert.Equal(t, context.DeadlineExceeded.Error(), j.LastError)
}
