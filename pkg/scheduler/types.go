package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc 任务函数，返回的错误会被记录但不会影响后续调度
type JobFunc func(ctx context.Context) error

// Job 表示一个已注册的任务
type Job struct {
	ID         string
	Name       string
	Schedule   string
	EntryID    cron.EntryID
	Status     JobStatus
	LastRun    *time.Time
	NextRun    *time.Time
	RunCount   int64
	ErrorCount int64
	LastError  error

	fn JobFunc
}

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusError   JobStatus = "error"
)

// JobInfo 任务状态快照，可直接序列化
type JobInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Status     JobStatus  `json:"status"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
	RunCount   int64      `json:"runCount"`
	ErrorCount int64      `json:"errorCount"`
	LastError  string     `json:"lastError,omitempty"`
}

func (j *Job) info() JobInfo {
	info := JobInfo{
		ID:         j.ID,
		Name:       j.Name,
		Schedule:   j.Schedule,
		Status:     j.Status,
		LastRun:    j.LastRun,
		NextRun:    j.NextRun,
		RunCount:   j.RunCount,
		ErrorCount: j.ErrorCount,
	}
	if j.LastError != nil {
		info.LastError = j.LastError.Error()
	}
	return info
}
