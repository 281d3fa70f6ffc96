package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamzashaikhcan/user-data-api/pkg/cache"
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
)

var requestBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10}

// Prometheus 服务指标，使用独立的 Registry
type Prometheus struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	cacheSize     prometheus.Gauge
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	cacheResponse *prometheus.HistogramVec

	rateLimitExceeded *prometheus.CounterVec

	queueJobs    *prometheus.CounterVec
	queueWaiting *prometheus.GaugeVec
	queueActive  *prometheus.GaugeVec

	errors *prometheus.CounterVec
}

var (
	_ cache.Recorder     = (*Prometheus)(nil)
	_ ratelimit.Observer = (*Prometheus)(nil)
)

// NewPrometheus 创建指标并注册到新的 Registry，同时注册进程和 Go 运行时指标
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	p := &Prometheus{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: requestBuckets,
		}, []string{"method", "route", "status_code"}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_size",
			Help: "Current number of items in cache",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		}),
		cacheResponse: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_response_seconds",
			Help:    "Time to serve a cache lookup, including the fetch on a miss",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"result"}),
		rateLimitExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_exceeded_total",
			Help: "Total number of requests that exceeded rate limit",
		}, []string{"gate"}),
		queueJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_total",
			Help: "Total number of jobs processed by queue",
		}, []string{"queue", "status"}),
		queueWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_jobs_waiting",
			Help: "Current number of jobs waiting in queue",
		}, []string{"queue"}),
		queueActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_jobs_active",
			Help: "Current number of active jobs in queue",
		}, []string{"queue"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		}, []string{"type"}),
	}

	reg.MustRegister(
		p.httpRequests, p.httpDuration,
		p.cacheSize, p.cacheHits, p.cacheMisses, p.cacheResponse,
		p.rateLimitExceeded,
		p.queueJobs, p.queueWaiting, p.queueActive,
		p.errors,
	)
	return p
}

// Registry 返回底层 Registry
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler /metrics 处理器
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ObserveRequest 记录一次 HTTP 请求
func (p *Prometheus) ObserveRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	p.httpRequests.WithLabelValues(method, route, code).Inc()
	p.httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// RecordHit 实现 cache.Recorder
func (p *Prometheus) RecordHit(d time.Duration) {
	p.cacheHits.Inc()
	p.cacheResponse.WithLabelValues("hit").Observe(d.Seconds())
}

// RecordMiss 实现 cache.Recorder
func (p *Prometheus) RecordMiss(d time.Duration) {
	p.cacheMisses.Inc()
	p.cacheResponse.WithLabelValues("miss").Observe(d.Seconds())
}

// RecordSize 实现 cache.Recorder
func (p *Prometheus) RecordSize(n int) {
	p.cacheSize.Set(float64(n))
}

// RecordRejection 实现 ratelimit.Observer
func (p *Prometheus) RecordRejection(r ratelimit.Rejection) {
	p.rateLimitExceeded.WithLabelValues(string(r.Gate)).Inc()
}

// RecordJob 记录一个任务的最终状态（completed / failed / fallback）
func (p *Prometheus) RecordJob(queue, status string) {
	p.queueJobs.WithLabelValues(queue, status).Inc()
}

// SetQueueDepth 更新队列等待和执行中的任务数
func (p *Prometheus) SetQueueDepth(queue string, waiting, active int64) {
	p.queueWaiting.WithLabelValues(queue).Set(float64(waiting))
	p.queueActive.WithLabelValues(queue).Set(float64(active))
}

// RecordError 按类型记录错误
func (p *Prometheus) RecordError(kind string) {
	p.errors.WithLabelValues(kind).Inc()
}
