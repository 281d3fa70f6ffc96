package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
)

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler 周期任务调度器。同一任务上一次未结束时跳过本次执行，
// 任务的错误和 panic 只会被记录。
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*Job
	mu      sync.RWMutex
	logger  *logrus.Entry
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// Option 可选项
type Option func(*Scheduler)

// WithJobTimeout 单次执行超时，默认 5 分钟
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New 创建调度器
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	log := logger.WithComponent("scheduler")

	s := &Scheduler{
		jobs:    make(map[string]*Job),
		logger:  log,
		timeout: 5 * time.Minute,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{log}
	s.cron = cron.New(
		cron.WithParser(specParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return s
}

// Every 按固定间隔执行任务
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("任务 %s 的间隔必须为正数", name)
	}
	return s.add(name, "@every "+interval.String(), cron.Every(interval), fn)
}

// AddJob 按 cron 表达式添加任务，支持可选的秒字段
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	schedule, err := specParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("无效的调度表达式 '%s': %w", spec, err)
	}
	return s.add(name, spec, schedule, fn)
}

func (s *Scheduler) add(name, spec string, schedule cron.Schedule, fn JobFunc) error {
	if name == "" {
		return fmt.Errorf("任务名称不能为空")
	}
	if fn == nil {
		return fmt.Errorf("任务 %s 缺少执行函数", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("任务已存在: %s", name)
	}

	job := &Job{
		ID:       uuid.New().String(),
		Name:     name,
		Schedule: spec,
		Status:   JobStatusPending,
		fn:       fn,
	}
	job.EntryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.executeJob(job) }))
	s.jobs[name] = job

	s.logger.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("job added")
	return nil
}

// RemoveJob 移除任务
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("任务不存在: %s", name)
	}

	s.cron.Remove(job.EntryID)
	delete(s.jobs, name)
	s.logger.WithField("job", name).Info("job removed")
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.Lock()
	s.updateNextRunTimes()
	s.mu.Unlock()

	s.logger.WithField("jobs", len(s.jobs)).Info("scheduler started")
}

// Stop 停止调度并等待正在执行的任务，最多等待 timeout
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()

	// 与 executeJob 的检查互斥，取消之后不会再有任务登记
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(timeout):
		s.logger.Warn("scheduler stop timed out")
	}
}

// RunJob 立即在后台执行一次任务
func (s *Scheduler) RunJob(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("任务不存在: %s", name)
	}

	go s.executeJob(job)
	return nil
}

// GetJob 任务状态
func (s *Scheduler) GetJob(name string) (JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[name]
	if !exists {
		return JobInfo{}, false
	}
	return job.info(), true
}

// Jobs 按名称排序的全部任务状态
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateNextRunTimes()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		infos = append(infos, job.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Scheduler) executeJob(job *Job) {
	s.mu.Lock()
	if job.Status == JobStatusRunning {
		s.mu.Unlock()
		s.logger.WithField("job", job.Name).Warn("job still running, skipping this run")
		return
	}
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	now := time.Now()
	job.LastRun = &now
	job.RunCount++
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	err := s.call(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logger.WithFields(logrus.Fields{"job": job.Name, "duration": time.Since(now).String()})
	if err != nil {
		job.Status = JobStatusError
		job.LastError = err
		job.ErrorCount++
		log.WithError(err).Error("job failed")
		return
	}
	job.Status = JobStatusPending
	job.LastError = nil
	log.Debug("job finished")
}

func (s *Scheduler) call(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.fn(ctx)
}

// updateNextRunTimes 需要持有锁
func (s *Scheduler) updateNextRunTimes() {
	for _, entry := range s.cron.Entries() {
		for _, job := range s.jobs {
			if entry.ID == job.EntryID && !entry.Next.IsZero() {
				next := entry.Next
				job.NextRun = &next
				break
			}
		}
	}
}

// cronLogger 把 cron 的日志转给 logrus
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
