package ratelimit

import "time"

// Gate 拒绝请求的限流层
type Gate string

const (
	GateNone  Gate = ""
	GateBurst Gate = "burst" // 短窗口突发限制
	GateQuota Gate = "quota" // 固定窗口总量限制
)

// Request 一次待判定的请求
type Request struct {
	Identity string
	Method   string
	Path     string
}

// Decision 判定结果
type Decision struct {
	Allowed    bool
	Gate       Gate          // 拒绝时为触发的限流层
	RetryAfter time.Duration // 拒绝时建议的重试等待时间
	Limit      int           // 固定窗口配额
	Remaining  int           // 固定窗口剩余配额
	ResetAfter time.Duration // 固定窗口剩余时间
}

// Message 拒绝时返回给客户端的文案
func (d Decision) Message() string {
	switch d.Gate {
	case GateBurst:
		return "Rate limit exceeded: too many requests in a short period."
	case GateQuota:
		return "Too many requests, please try again later."
	default:
		return ""
	}
}

// Rejection 拒绝事件
type Rejection struct {
	Gate     Gate
	Identity string
	Method   string
	Path     string
	Count    int // 拒绝时窗口内已计数的请求数
	Limit    int
	At       time.Time
}

// Observer 拒绝事件上报接口，实现方不得阻塞调用方
type Observer interface {
	RecordRejection(r Rejection)
}

// Stats 限流器统计
type Stats struct {
	TrackedIdentities int   `json:"trackedIdentities"`
	Admitted          int64 `json:"admitted"`
	RejectedBurst     int64 `json:"rejectedBurst"`
	RejectedQuota     int64 `json:"rejectedQuota"`
	Compactions       int64 `json:"compactions"`
}

// Clock 时间源，测试中可替换
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type noopObserver struct{}

func (noopObserver) RecordRejection(Rejection) {}
