package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hamzashaikhcan/user-data-api/pkg/config"
	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
	"github.com/hamzashaikhcan/user-data-api/pkg/monitoring"
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
	"github.com/hamzashaikhcan/user-data-api/pkg/scheduler"
	"github.com/hamzashaikhcan/user-data-api/pkg/user"
)

// RejectionTotals 跨实例的限流拒绝累计
type RejectionTotals interface {
	Totals(ctx context.Context) (map[string]int64, error)
}

// Options 服务依赖
type Options struct {
	Config        *config.Config
	Users         *user.Service
	Metrics       *monitoring.Prometheus
	APILimiter    *ratelimit.Limiter
	GlobalLimiter *ratelimit.Limiter

	// 以下可选
	Scheduler  *scheduler.Scheduler
	Rejections RejectionTotals
	KeyFunc    ratelimit.KeyFunc
}

// Server HTTP 服务
type Server struct {
	opts        Options
	router      *gin.Engine
	httpServer  *http.Server
	keyFunc     ratelimit.KeyFunc
	development bool
	log         *logrus.Entry
}

// New 创建服务并注册路由
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Users == nil {
		return nil, errors.New("server requires config and user service")
	}
	if opts.APILimiter == nil || opts.GlobalLimiter == nil {
		return nil, errors.New("server requires api and global rate limiters")
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewPrometheus()
	}

	s := &Server{
		opts:        opts,
		keyFunc:     opts.KeyFunc,
		development: opts.Config.IsDevelopment(),
		log:         logger.WithComponent("http"),
	}
	if s.keyFunc == nil {
		s.keyFunc = ratelimit.DefaultKeyFunc("", opts.Config.Server.TrustForwardedFor)
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(s.recovery())
	router.Use(requestID())
	router.Use(s.requestLogger())
	router.Use(s.metrics())
	router.Use(cors())
	router.Use(s.rateLimit(s.opts.GlobalLimiter))
	router.Use(s.errorHandler())

	router.GET("/health", s.health)
	if s.opts.Config.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1", s.rateLimit(s.opts.APILimiter))
	{
		users := v1.Group("/users")
		users.GET("", s.listUsers)
		users.GET("/:id", s.getUser)
		users.POST("", s.createUser)

		cache := v1.Group("/cache")
		cache.GET("/status", s.cacheStatus)
		cache.DELETE("", s.clearCache)
		cache.DELETE("/users/:id", s.invalidateUser)
		cache.GET("/queue", s.queueStatus)
		cache.GET("/system", s.systemStatus)
	}

	router.NoRoute(func(c *gin.Context) {
		_ = c.Error(notFound(c))
	})
	return router
}

// Handler 路由处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 监听端口并在后台提供服务，端口占用等错误同步返回
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.opts.Config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithFields(logrus.Fields{
		"addr": ln.Addr().String(),
		"env":  s.opts.Config.Server.Env,
	}).Info("HTTP server listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
	return nil
}

// Stop 优雅关闭，等待进行中的请求
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
