package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/hamzashaikhcan/user-data-api/pkg/cache"
	"github.com/hamzashaikhcan/user-data-api/pkg/config"
	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
	"github.com/hamzashaikhcan/user-data-api/pkg/monitoring"
	"github.com/hamzashaikhcan/user-data-api/pkg/queue"
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
	"github.com/hamzashaikhcan/user-data-api/pkg/scheduler"
	"github.com/hamzashaikhcan/user-data-api/pkg/server"
	"github.com/hamzashaikhcan/user-data-api/pkg/user"
)

const queueMetricsInterval = 5 * time.Second

// app 持有所有长生命周期组件，关闭时按创建的逆序释放
type app struct {
	cfg *config.Config
	log *logrus.Entry

	metrics    *monitoring.Prometheus
	rdb        *redis.Client
	pg         *user.PostgresRepository
	jobs       *user.Jobs
	users      *cache.Cache[int64, *user.User]
	service    *user.Service
	apiLimit   *ratelimit.Limiter
	global     *ratelimit.Limiter
	rejections *monitoring.RedisRejectionStore
	exporter   *monitoring.InfluxExporter
	sched      *scheduler.Scheduler
	srv        *server.Server
}

func serve(ctx context.Context, v *viper.Viper, configPath string) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}

	logger.Init(cfg.Logger)
	gin.SetMode(cfg.Server.Mode)
	log := logger.WithComponent("main")

	if config.Watch(v, func(next *config.Config) {
		if logger.SetLevel(next.Logger.Level) {
			log.WithField("level", next.Logger.Level).Info("log level updated")
		}
	}) {
		log.WithField("file", v.ConfigFileUsed()).Info("watching config file")
	}

	a := &app{cfg: cfg, log: log, metrics: monitoring.NewPrometheus()}
	defer a.close()

	if err := a.build(ctx); err != nil {
		return err
	}
	if err := a.srv.Start(); err != nil {
		return err
	}
	a.sched.Start()

	log.WithFields(logrus.Fields{
		"version": version,
		"port":    cfg.Server.Port,
		"env":     cfg.Server.Env,
		"redis":   a.rdb != nil,
	}).Info("api server started")

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Redis.Enabled {
		a.rdb = a.connectRedis(ctx)
	}

	var repo user.Repository
	if cfg.Database.URL != "" {
		pg, err := user.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open user database: %w", err)
		}
		a.pg = pg
		repo = pg
		a.log.Info("using postgres user repository")
	} else {
		repo = user.NewMemoryRepository(cfg.Database.SimulatedDelay)
		a.log.WithField("delay", cfg.Database.SimulatedDelay).Info("using in-memory user repository")
	}

	breaker := queue.DefaultBreakerConfig()
	if cfg.Queue.BreakerFailures > 0 {
		breaker.ReadyToTrip = cfg.Queue.BreakerFailures
	}
	if cfg.Queue.BreakerTimeout > 0 {
		breaker.Timeout = cfg.Queue.BreakerTimeout
	}
	jobsCfg := user.JobsConfig{
		Breaker: breaker,
		Metrics: a.metrics,
		Options: []queue.Option{
			queue.WithWorkers(cfg.Queue.Workers),
			queue.WithRateLimit(cfg.Queue.RatePerSecond, cfg.Queue.Burst),
			queue.WithJobTimeout(cfg.Queue.JobTimeout),
		},
	}
	if a.rdb != nil {
		jobsCfg.Redis = a.rdb
	}
	a.jobs = user.NewJobs(repo, jobsCfg)

	users, err := cache.New[int64, *user.User](cache.Config{
		MaxSize: cfg.Cache.MaxSize,
		TTL:     cfg.Cache.TTL,
	}, cache.WithName("users"), cache.WithRecorder(a.metrics))
	if err != nil {
		return err
	}
	a.users = users
	a.service = user.NewService(repo, a.jobs, users)

	observers := monitoring.Observers{a.metrics}
	if a.rdb != nil {
		a.rejections = monitoring.NewRedisRejectionStore(a.rdb, monitoring.WithStatsTTL(cfg.Redis.StatsTTL))
		observers = append(observers, a.rejections)
	}

	limits := ratelimit.Config{
		Max:              cfg.RateLimit.Max,
		Window:           cfg.RateLimit.Window,
		BurstMax:         cfg.RateLimit.BurstMax,
		BurstWindow:      cfg.RateLimit.BurstWindow,
		SweepProbability: cfg.RateLimit.SweepProbability,
	}
	if a.apiLimit, err = ratelimit.New(limits, ratelimit.WithName("api"), ratelimit.WithObserver(observers)); err != nil {
		return err
	}
	if a.global, err = ratelimit.New(limits.Scale(cfg.RateLimit.GlobalMultiplier),
		ratelimit.WithName("global"), ratelimit.WithObserver(observers)); err != nil {
		return err
	}

	if err := a.schedule(ctx); err != nil {
		return err
	}

	opts := server.Options{
		Config:        cfg,
		Users:         a.service,
		Metrics:       a.metrics,
		APILimiter:    a.apiLimit,
		GlobalLimiter: a.global,
		Scheduler:     a.sched,
	}
	if a.rejections != nil {
		opts.Rejections = a.rejections
	}
	a.srv, err = server.New(opts)
	return err
}

// connectRedis Redis 不可用时返回 nil，任务队列改用内存实现
func (a *app) connectRedis(ctx context.Context) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.log.WithError(err).WithField("addr", a.cfg.Redis.Addr).
			Warn("redis unavailable, falling back to in-memory queues")
		_ = rdb.Close()
		return nil
	}

	a.log.WithField("addr", a.cfg.Redis.Addr).Info("connected to redis")
	return rdb
}

func (a *app) schedule(ctx context.Context) error {
	a.sched = scheduler.New(scheduler.WithJobTimeout(10 * time.Second))

	if err := a.sched.Every("queue-metrics", queueMetricsInterval, func(ctx context.Context) error {
		counts, err := a.jobs.Counts(ctx)
		if err != nil {
			return err
		}
		for name, c := range counts {
			a.metrics.SetQueueDepth(name, c.Waiting, c.Active)
		}
		a.metrics.RecordSize(a.users.Len())
		return nil
	}); err != nil {
		return err
	}

	influx := a.cfg.Metrics.Influx
	if !influx.Enabled {
		return nil
	}

	exporter, err := monitoring.NewInfluxExporter(ctx, influx)
	if err != nil {
		// 统计导出失败不影响服务
		a.log.WithError(err).Warn("influxdb export disabled")
		return nil
	}
	a.exporter = exporter

	return a.sched.Every("influx-export", influx.Interval, func(ctx context.Context) error {
		queues, err := a.jobs.Counts(ctx)
		if err != nil {
			return err
		}
		return a.exporter.Export(ctx, monitoring.Snapshot{
			At:    time.Now(),
			Cache: a.users.Stats(),
			Limiters: map[string]ratelimit.Stats{
				"api":    a.apiLimit.Stats(),
				"global": a.global.Stats(),
			},
			Queues: queues,
		})
	})
}

func (a *app) close() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := a.srv.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("http server shutdown incomplete")
		}
		cancel()
	}
	if a.sched != nil {
		a.sched.Stop(a.cfg.Server.ShutdownTimeout)
	}
	if a.jobs != nil {
		if err := a.jobs.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close job queues")
		}
	}
	if a.users != nil {
		a.users.Shutdown()
	}
	if a.apiLimit != nil {
		a.apiLimit.Close()
	}
	if a.global != nil {
		a.global.Close()
	}
	if a.rejections != nil {
		a.rejections.Close()
	}
	if a.exporter != nil {
		a.exporter.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	a.log.Info("api server stopped")
}
