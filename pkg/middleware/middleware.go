// Package middleware 提供租户识别、访问日志、指标、追踪与熔断等 gin 中间件.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/internal/types"
)

// abort 以统一的错误结构结束请求.
func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, types.ErrorResponse{Error: msg, Code: code})
}
