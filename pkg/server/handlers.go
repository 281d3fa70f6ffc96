package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
	"github.com/hamzashaikhcan/user-data-api/pkg/cache"
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
	"github.com/hamzashaikhcan/user-data-api/pkg/scheduler"
	"github.com/hamzashaikhcan/user-data-api/pkg/user"
)

func notFound(c *gin.Context) error {
	return apperror.NotFound("Not found - " + c.Request.URL.RequestURI())
}

func parseUserID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, apperror.BadRequest("Invalid user ID. Must be a number.")
	}
	return id, nil
}

// timed 写入耗时响应头并返回带 responseTime 的成功响应
func timed(c *gin.Context, status int, start time.Time, body gin.H) {
	ms := time.Since(start).Milliseconds()
	c.Header(headerResponseTime, fmt.Sprintf("%dms", ms))
	body["status"] = "success"
	body["responseTime"] = ms
	c.JSON(status, body)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"message":     "API is running",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"environment": s.opts.Config.Server.Env,
	})
}

func (s *Server) listUsers(c *gin.Context) {
	start := time.Now()
	users, err := s.opts.Users.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	timed(c, http.StatusOK, start, gin.H{
		"results": len(users),
		"data":    gin.H{"users": users},
	})
}

func (s *Server) getUser(c *gin.Context) {
	id, err := parseUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	start := time.Now()
	u, err := s.opts.Users.GetByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	timed(c, http.StatusOK, start, gin.H{"data": gin.H{"user": u}})
}

func (s *Server) createUser(c *gin.Context) {
	var in user.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(apperror.BadRequest("Name and email are required"))
		return
	}

	start := time.Now()
	u, err := s.opts.Users.Create(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}

	timed(c, http.StatusCreated, start, gin.H{"data": gin.H{"user": u}})
}

func (s *Server) cacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   gin.H{"cache": s.opts.Users.CacheStats()},
	})
}

func (s *Server) clearCache(c *gin.Context) {
	s.opts.Users.ClearCache()
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Cache cleared successfully",
	})
}

func (s *Server) invalidateUser(c *gin.Context) {
	id, err := parseUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	removed := s.opts.Users.InvalidateUser(id)
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Cache entry for user %d invalidated", id),
		"data":    gin.H{"removed": removed},
	})
}

func (s *Server) queueStatus(c *gin.Context) {
	status, err := s.opts.Users.QueueStatus(c.Request.Context())
	if err != nil {
		_ = c.Error(apperror.Unavailable("Queue status unavailable", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   gin.H{"queue": status},
	})
}

// systemStatus 并发汇总缓存、队列、限流和后台任务状态
func (s *Server) systemStatus(c *gin.Context) {
	var (
		cacheStats cache.Stats
		queue      user.QueueStatus
		rejections map[string]int64
		jobs       []scheduler.JobInfo
	)
	limits := map[string]ratelimit.Stats{}

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		cacheStats = s.opts.Users.CacheStats()
		return nil
	})
	g.Go(func() error {
		var err error
		queue, err = s.opts.Users.QueueStatus(ctx)
		if err != nil {
			return apperror.Unavailable("Queue status unavailable", err)
		}
		return nil
	})
	g.Go(func() error {
		limits["api"] = s.opts.APILimiter.Stats()
		limits["global"] = s.opts.GlobalLimiter.Stats()
		if s.opts.Scheduler != nil {
			jobs = s.opts.Scheduler.Jobs()
		}
		return nil
	})
	if s.opts.Rejections != nil {
		g.Go(func() error {
			totals, err := s.opts.Rejections.Totals(ctx)
			if err != nil {
				// 统计不可用时不影响整体状态
				s.log.WithError(err).Warn("failed to read rate limit rejection totals")
				return nil
			}
			rejections = totals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = c.Error(err)
		return
	}

	data := gin.H{
		"cache":     cacheStats,
		"queue":     queue,
		"rateLimit": limits,
	}
	if jobs != nil {
		data["jobs"] = jobs
	}
	if rejections != nil {
		data["rejections"] = rejections
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"timestamp": time.Now().UTC(),
		"data":      data,
	})
}
