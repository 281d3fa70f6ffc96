package config

import (
	"errors"
	"time"

	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
)

// Config 主配置结构
type Config struct {
	// 服务配置
	Server ServerConfig `json:"server" mapstructure:"server"`

	// 缓存配置
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// 限流配置
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	Redis    RedisConfig    `json:"redis" mapstructure:"redis"`
	Queue    QueueConfig    `json:"queue" mapstructure:"queue"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Logger   logger.Config  `json:"logger" mapstructure:"logger"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port              int           `json:"port" mapstructure:"port"`
	Mode              string        `json:"mode" mapstructure:"mode"` // gin 模式: debug, release, test
	Env               string        `json:"env" mapstructure:"env"`   // development, production, test
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TrustForwardedFor bool          `json:"trust_forwarded_for" mapstructure:"trust_forwarded_for"`
}

// CacheConfig 用户缓存配置
type CacheConfig struct {
	MaxSize int           `json:"max_size" mapstructure:"max_size"` // 最大条目数
	TTL     time.Duration `json:"ttl" mapstructure:"ttl"`           // 条目存活时间
}

// RateLimitConfig 两级限流配置
type RateLimitConfig struct {
	Max              int           `json:"max" mapstructure:"max"`                   // 固定窗口内允许的请求数
	Window           time.Duration `json:"window" mapstructure:"window"`             // 固定窗口长度
	BurstMax         int           `json:"burst_max" mapstructure:"burst_max"`       // 突发窗口内允许的请求数
	BurstWindow      time.Duration `json:"burst_window" mapstructure:"burst_window"` // 突发窗口长度
	SweepProbability float64       `json:"sweep_probability" mapstructure:"sweep_probability"`
	GlobalMultiplier int           `json:"global_multiplier" mapstructure:"global_multiplier"` // 全局限流器相对 API 限流器的倍数
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Addr     string        `json:"addr" mapstructure:"addr"`
	Password string        `json:"-" mapstructure:"password"`
	DB       int           `json:"db" mapstructure:"db"`
	StatsTTL time.Duration `json:"stats_ttl" mapstructure:"stats_ttl"` // 限流统计按分钟桶的过期时间
}

// QueueConfig 后台任务队列配置
type QueueConfig struct {
	Workers         int           `json:"workers" mapstructure:"workers"`
	RatePerSecond   float64       `json:"rate_per_second" mapstructure:"rate_per_second"`
	Burst           int           `json:"burst" mapstructure:"burst"`
	JobTimeout      time.Duration `json:"job_timeout" mapstructure:"job_timeout"`
	BreakerFailures uint32        `json:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `json:"breaker_timeout" mapstructure:"breaker_timeout"`
}

// DatabaseConfig 用户存储配置，URL 为空时使用内存存储
type DatabaseConfig struct {
	URL            string        `json:"-" mapstructure:"url"`
	SimulatedDelay time.Duration `json:"simulated_delay" mapstructure:"simulated_delay"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Influx  InfluxConfig `json:"influx" mapstructure:"influx"`
}

// InfluxConfig InfluxDB 统计导出配置
type InfluxConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	URL      string        `json:"url" mapstructure:"url"`
	Token    string        `json:"-" mapstructure:"token"`
	Org      string        `json:"org" mapstructure:"org"`
	Bucket   string        `json:"bucket" mapstructure:"bucket"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			Mode:            "release",
			Env:             "development",
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			MaxSize: 100,
			TTL:     60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Max:              10,
			Window:           60 * time.Second,
			BurstMax:         5,
			BurstWindow:      10 * time.Second,
			SweepProbability: 0.01,
			GlobalMultiplier: 2,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			StatsTTL: time.Hour,
		},
		Queue: QueueConfig{
			Workers:         2,
			RatePerSecond:   100,
			Burst:           10,
			JobTimeout:      5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			SimulatedDelay: 200 * time.Millisecond,
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Influx: InfluxConfig{
				URL:      "http://localhost:8086",
				Org:      "user-data-api",
				Bucket:   "api_stats",
				Interval: time.Minute,
			},
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}

	if c.Cache.MaxSize <= 0 {
		return errors.New("cache max_size must be positive")
	}

	if c.Cache.TTL <= 0 {
		return errors.New("cache ttl must be positive")
	}

	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate_limit max and window must be positive")
	}

	if c.RateLimit.BurstMax <= 0 || c.RateLimit.BurstWindow <= 0 {
		return errors.New("rate_limit burst_max and burst_window must be positive")
	}

	if c.RateLimit.SweepProbability < 0 || c.RateLimit.SweepProbability > 1 {
		return errors.New("rate_limit sweep_probability must be within [0, 1]")
	}

	if c.RateLimit.GlobalMultiplier <= 0 {
		return errors.New("rate_limit global_multiplier must be positive")
	}

	if c.Queue.Workers <= 0 {
		return errors.New("queue workers must be positive")
	}

	if c.Queue.JobTimeout <= 0 {
		return errors.New("queue job_timeout must be positive")
	}

	if c.Database.SimulatedDelay < 0 {
		return errors.New("database simulated_delay cannot be negative")
	}

	if c.Metrics.Influx.Enabled && c.Metrics.Influx.Interval <= 0 {
		return errors.New("influx interval must be positive")
	}

	return nil
}

// IsDevelopment 是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// SetCacheTTL 设置缓存过期时间
func (c *Config) SetCacheTTL(ttl time.Duration) *Config {
	c.Cache.TTL = ttl
	return c
}

// SetCacheMaxSize 设置缓存容量
func (c *Config) SetCacheMaxSize(size int) *Config {
	c.Cache.MaxSize = size
	return c
}

// SetRateLimit 设置固定窗口配额
func (c *Config) SetRateLimit(max int, window time.Duration) *Config {
	c.RateLimit.Max = max
	c.RateLimit.Window = window
	return c
}

// SetBurstLimit 设置突发窗口配额
func (c *Config) SetBurstLimit(max int, window time.Duration) *Config {
	c.RateLimit.BurstMax = max
	c.RateLimit.BurstWindow = window
	return c
}

// SetLogLevel 设置日志级别
func (c *Config) SetLogLevel(level string) *Config {
	c.Logger.Level = level
	return c
}
