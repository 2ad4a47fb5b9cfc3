package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/metrics"
)

// PrometheusMiddleware 记录请求数、耗时与并发数.
// route 取路由模板，/jobs/:id 这类参数不会放大标签基数；websocket 长连接只计数不计耗时.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.RequestsInFlight.Inc()
		defer metrics.RequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		method := c.Request.Method

		metrics.RequestCounter.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()

		if !c.IsWebsocket() {
			metrics.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		}
	}
}
