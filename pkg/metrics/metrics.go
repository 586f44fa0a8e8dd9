package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RetryTotal 乐观并发冲突后的重试次数
	// Labels: op (friend.send, reaction.toggle ...)
	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyhub",
		Subsystem: "consistency",
		Name:      "retries_total",
		Help:      "Optimistic concurrency retries",
	}, []string{"op"})

	// ConflictTotal 重试次数用尽后上报的冲突
	ConflictTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyhub",
		Subsystem: "consistency",
		Name:      "conflicts_total",
		Help:      "Operations that exhausted the retry budget",
	}, []string{"op"})

	// DriftTotal 修复时发现的计数偏差
	// Labels: kind (story, comment, post, user)
	DriftTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyhub",
		Subsystem: "consistency",
		Name:      "counter_drift_total",
		Help:      "Counters found diverging from a full recount",
	}, []string{"kind"})

	// ConsistencyErrors 修复时发现的无法自动处理的数据损坏
	ConsistencyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyhub",
		Subsystem: "consistency",
		Name:      "errors_total",
		Help:      "Reconcile runs that found orphaned records",
	}, []string{"kind"})

	// Transitions 好友关系状态变更与互动切换
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyhub",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Committed friendship transitions and reaction toggles",
	}, []string{"op"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyhub",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storyhub",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Middleware 记录请求数与耗时，route 使用路由模板避免高基数
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
