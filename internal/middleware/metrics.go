package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/pkg/metrics"
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// 使用路由模板, 避免租户名和 request_id 撑爆 label 基数
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.LatencyBucket.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		metrics.HTTPRequests.WithLabelValues(endpoint, c.Request.Method, statusClass(c.Writer.Status())).Inc()
	}
}

// statusClass folds a status code into 2xx, 4xx and so on.
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
