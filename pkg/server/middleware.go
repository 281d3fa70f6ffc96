package server

import (
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
)

const (
	headerRequestID    = "X-Request-ID"
	headerResponseTime = "X-Response-Time"
	ctxRequestID       = "request_id"
)

// requestID 透传或生成请求 ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// requestLogger 请求日志，按状态码选择级别
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := s.log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(ctxRequestID),
			"user_agent": c.Request.UserAgent(),
		})

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request completed")
		}
	}
}

// recovery 处理 panic 并返回 500
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.WithFields(logrus.Fields{
					"panic":      r,
					"path":       c.Request.URL.Path,
					"request_id": c.GetString(ctxRequestID),
					"stack":      string(debug.Stack()),
				}).Error("panic recovered")

				s.renderError(c, apperror.Internal("Internal Server Error", fmt.Errorf("panic: %v", r)))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// metrics 记录请求计数和耗时，路由使用模板路径
func (s *Server) metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.opts.Metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// cors 跨域和安全响应头
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Response-Time, Retry-After, RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset")

		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Header("X-DNS-Prefetch-Control", "off")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Strict-Transport-Security", "max-age=15552000; includeSubDomains")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// rateLimit 两级限流，拒绝时返回 429 和 Retry-After
func (s *Server) rateLimit(l *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		d := l.Check(ratelimit.Request{
			Identity: s.keyFunc(c.Request),
			Method:   c.Request.Method,
			Path:     path,
		})

		c.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("RateLimit-Reset", strconv.Itoa(ceilSeconds(d.ResetAfter)))

		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(ceilSeconds(d.RetryAfter)))
			s.renderError(c, apperror.TooManyRequests(d.Message()))
			c.Abort()
			return
		}
		c.Next()
	}
}

// ceilSeconds 向上取整到秒，至少为 1
func ceilSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// errorHandler 把处理函数通过 c.Error 登记的错误渲染为 JSON
func (s *Server) errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		s.renderError(c, c.Errors.Last().Err)
	}
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := apperror.StatusOf(err)
	kind := string(apperror.CodeInternal)
	message := "Internal Server Error"

	if appErr, ok := apperror.As(err); ok {
		kind = string(appErr.Code)
		message = appErr.Message
	} else if s.development {
		message = err.Error()
	}
	s.opts.Metrics.RecordError(kind)

	entry := s.log.WithFields(logrus.Fields{
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"status":     status,
		"ip":         c.ClientIP(),
		"request_id": c.GetString(ctxRequestID),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request error")
	} else {
		entry.Debug("request error")
	}

	body := gin.H{
		"status":  status,
		"message": message,
	}
	if s.development {
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}
