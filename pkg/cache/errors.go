package cache

import (
	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
)

const (
	// ErrCodeFetchPanic 加载函数发生 panic
	ErrCodeFetchPanic apperror.ErrorCode = "CACHE_FETCH_PANIC"
)

// ErrFetchPanic 用于 errors.Is 判断加载函数 panic
var ErrFetchPanic = apperror.New(ErrCodeFetchPanic, 500, "cache fetch panicked")

func newFetchPanicError(key any, recovered any) *apperror.AppError {
	return apperror.New(ErrCodeFetchPanic, 500, "cache fetch panicked").
		WithContext("key", key).
		WithContext("panic", recovered)
}
