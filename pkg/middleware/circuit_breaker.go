package middleware

import (
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"github.com/yeisme/dedupvault/pkg/breaker"
	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
)

// errServerFailure 标记 5xx 响应，只用于失败计数.
var errServerFailure = errors.New("server error response")

// CircuitBreakerMiddleware 业务路由的 5xx 比例过高时直接返回 503.
// 4xx 属于调用方问题，不计入失败.
func CircuitBreakerMiddleware(cfg configs.CircuitBreakerConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	cb := gobreaker.NewCircuitBreaker(breaker.Settings("http", cfg))

	return func(c *gin.Context) {
		_, err := cb.Execute(func() (any, error) {
			c.Next()

			if c.Writer.Status() >= http.StatusInternalServerError {
				return nil, errServerFailure
			}

			return nil, nil
		})

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.Header("Retry-After", retryAfter(cfg))
			abort(c, http.StatusServiceUnavailable, errs.CodeExternalCapability, "service temporarily unavailable")
		}
	}
}

func retryAfter(cfg configs.CircuitBreakerConfig) string {
	return strconv.Itoa(max(cfg.TimeoutSeconds, 1))
}
