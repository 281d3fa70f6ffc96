package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hamzashaikhcan/user-data-api/pkg/logger"
)

// EnvPrefix 环境变量前缀，例如 USER_API_CACHE_TTL=30s
const EnvPrefix = "USER_API"

// 兼容旧部署使用的环境变量（数值单位为秒或毫秒）
var legacyEnv = map[string]string{
	"server.port":          "PORT",
	"server.env":           "NODE_ENV",
	"cache.max_size":       "CACHE_MAX_SIZE",
	"rate_limit.max":       "RATE_LIMIT_MAX",
	"rate_limit.burst_max": "RATE_LIMIT_BURST_MAX",
	"redis.password":       "REDIS_PASSWORD",
	"database.url":         "DATABASE_URL",
}

const (
	legacyCacheTTLSeconds   = "legacy.cache_ttl_seconds"
	legacyWindowMillis      = "legacy.rate_limit_window_ms"
	legacyBurstWindowMillis = "legacy.rate_limit_burst_window_ms"
	legacyRedisHost         = "legacy.redis_host"
	legacyRedisPort         = "legacy.redis_port"
)

// NewViper 创建带默认值和环境变量绑定的 viper 实例
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, env)
	}
	_ = v.BindEnv(legacyCacheTTLSeconds, "CACHE_TTL_SECONDS")
	_ = v.BindEnv(legacyWindowMillis, "RATE_LIMIT_WINDOW_MS")
	_ = v.BindEnv(legacyBurstWindowMillis, "RATE_LIMIT_BURST_WINDOW_MS")
	_ = v.BindEnv(legacyRedisHost, "REDIS_HOST")
	_ = v.BindEnv(legacyRedisPort, "REDIS_PORT")

	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.env", d.Server.Env)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.trust_forwarded_for", d.Server.TrustForwardedFor)

	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("rate_limit.max", d.RateLimit.Max)
	v.SetDefault("rate_limit.window", d.RateLimit.Window)
	v.SetDefault("rate_limit.burst_max", d.RateLimit.BurstMax)
	v.SetDefault("rate_limit.burst_window", d.RateLimit.BurstWindow)
	v.SetDefault("rate_limit.sweep_probability", d.RateLimit.SweepProbability)
	v.SetDefault("rate_limit.global_multiplier", d.RateLimit.GlobalMultiplier)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.stats_ttl", d.Redis.StatsTTL)

	v.SetDefault("queue.workers", d.Queue.Workers)
	v.SetDefault("queue.rate_per_second", d.Queue.RatePerSecond)
	v.SetDefault("queue.burst", d.Queue.Burst)
	v.SetDefault("queue.job_timeout", d.Queue.JobTimeout)
	v.SetDefault("queue.breaker_failures", d.Queue.BreakerFailures)
	v.SetDefault("queue.breaker_timeout", d.Queue.BreakerTimeout)

	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.simulated_delay", d.Database.SimulatedDelay)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.influx.enabled", d.Metrics.Influx.Enabled)
	v.SetDefault("metrics.influx.url", d.Metrics.Influx.URL)
	v.SetDefault("metrics.influx.token", d.Metrics.Influx.Token)
	v.SetDefault("metrics.influx.org", d.Metrics.Influx.Org)
	v.SetDefault("metrics.influx.bucket", d.Metrics.Influx.Bucket)
	v.SetDefault("metrics.influx.interval", d.Metrics.Influx.Interval)
}

// Load 依次加载 .env、配置文件和环境变量，返回校验后的配置。
// path 为空时在 ./config 和当前目录查找 api_server.yaml，找不到则只使用默认值和环境变量。
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("api_server")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacy(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyLegacy(v *viper.Viper, cfg *Config) {
	if v.IsSet(legacyCacheTTLSeconds) {
		cfg.Cache.TTL = time.Duration(v.GetInt64(legacyCacheTTLSeconds)) * time.Second
	}
	if v.IsSet(legacyWindowMillis) {
		cfg.RateLimit.Window = time.Duration(v.GetInt64(legacyWindowMillis)) * time.Millisecond
	}
	if v.IsSet(legacyBurstWindowMillis) {
		cfg.RateLimit.BurstWindow = time.Duration(v.GetInt64(legacyBurstWindowMillis)) * time.Millisecond
	}
	if v.IsSet(legacyRedisHost) || v.IsSet(legacyRedisPort) {
		host, port := "localhost", "6379"
		if v.IsSet(legacyRedisHost) {
			host = v.GetString(legacyRedisHost)
		}
		if v.IsSet(legacyRedisPort) {
			port = v.GetString(legacyRedisPort)
		}
		cfg.Redis.Addr = host + ":" + port
		cfg.Redis.Enabled = true
	}
}

// Watch 监听配置文件变化，重新解析成功后回调。没有使用配置文件时返回 false。
func Watch(v *viper.Viper, onChange func(*Config)) bool {
	if v.ConfigFileUsed() == "" {
		return false
	}

	log := logger.WithComponent("config")
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.WithError(err).WithField("file", e.Name).Warn("ignoring invalid config change")
			return
		}
		log.WithField("file", e.Name).Info("config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return true
}
