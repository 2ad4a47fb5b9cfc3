// Package api 把 HTTP 路由组装到 gin 引擎，区分业务路由与运维路由.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/handle"
	"github.com/yeisme/dedupvault/pkg/internal/router"
	"github.com/yeisme/dedupvault/pkg/middleware"
)

// Options 路由组装所需的配置.
type Options struct {
	Auth           configs.AuthConfig
	CircuitBreaker configs.CircuitBreakerConfig
	Server         configs.ServerConfig
	// Peers groupcache 节点 handler，为 nil 时不挂载
	Peers http.Handler
}

// RegisterRoutes 注册全部路由.
// 业务路由挂在根路径并经过租户识别与熔断，运维路由挂在 /api/v1 下.
func RegisterRoutes(e *gin.Engine, h *handle.Handlers, opts Options) *gin.Engine {
	ops := e.Group("/api/v1")
	router.RegisterHealthCheckRoute(ops)

	router.RegisterSchedulerRoutes(e.Group(""))
	router.RegisterSwaggerRoute(e, opts.Server)
	router.RegisterPeerRoute(e, opts.Peers)

	biz := e.Group("", middleware.AuthMiddleware(opts.Auth), middleware.CircuitBreakerMiddleware(opts.CircuitBreaker))
	router.Register(biz, h)

	return e
}
