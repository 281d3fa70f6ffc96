package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	CodeBadRequest      ErrorCode = "BAD_REQUEST"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	CodeInvalidConfig   ErrorCode = "INVALID_CONFIG"
	CodeUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// AppError 带 HTTP 状态码的应用错误
type AppError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Status    int                    `json:"-"`                 // 对应的 HTTP 状态码
	Message   string                 `json:"message"`           // 可以直接返回给客户端的信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`
}

// New 创建新的应用错误
func New(code ErrorCode, status int, message string) *AppError {
	return &AppError{
		Code:      code,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap 包装现有错误
func Wrap(code ErrorCode, status int, message string, cause error) *AppError {
	e := New(code, status, message)
	e.Cause = cause
	return e
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持错误包装
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码比较
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext 附加一个键值对形式的上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// StatusText 4xx 为 fail，5xx 为 error
func (e *AppError) StatusText() string {
	if e.Status >= 400 && e.Status < 500 {
		return "fail"
	}
	return "error"
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, http.StatusBadRequest, message)
}

func NotFound(message string) *AppError {
	return New(CodeNotFound, http.StatusNotFound, message)
}

func TooManyRequests(message string) *AppError {
	return New(CodeTooManyRequests, http.StatusTooManyRequests, message)
}

func Unavailable(message string, cause error) *AppError {
	return Wrap(CodeUnavailable, http.StatusServiceUnavailable, message, cause)
}

func Internal(message string, cause error) *AppError {
	return Wrap(CodeInternal, http.StatusInternalServerError, message, cause)
}

// InvalidConfig 构造期配置错误
func InvalidConfig(format string, args ...interface{}) *AppError {
	return New(CodeInvalidConfig, http.StatusInternalServerError, fmt.Sprintf(format, args...))
}

// As 从错误链中取出 *AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// StatusOf 返回错误对应的 HTTP 状态码，未知错误按 500 处理
func StatusOf(err error) int {
	if appErr, ok := As(err); ok && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// IsOperational 可预期的业务错误（4xx），消息可直接暴露给客户端
func IsOperational(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Status >= 400 && appErr.Status < 500
}
