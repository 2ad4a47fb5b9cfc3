package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/internal/handle"
)

// RegisterHealthCheckRoute 注册存活、就绪与单个后端的检查路由，这些路由不要求租户.
func RegisterHealthCheckRoute(g *gin.RouterGroup) {
	health := g.Group("/health")

	health.GET("/live", handle.HealthLive)
	health.GET("/ready", handle.HealthReady)

	for _, p := range handle.Probes {
		health.GET("/"+p.Name, handle.HealthComponent(p))
	}
}
