package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markui_http_requests_total",
		Help: "HTTP 请求总数，按方法、路由与状态码分类",
	}, []string{"method", "path", "status"})
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "markui_http_request_duration_seconds",
		Help:    "HTTP 请求耗时，按方法与路由分类",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Metrics 是一个 Gin 中间件，记录每个请求的 Prometheus 指标。
// 路由标签使用注册模板（如 /api/v1/documents/:id）而非真实路径，避免基数爆炸。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
