package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/configs"
)

// CORSMiddleware 允许浏览器直接调用上传接口并连接 /ws.
// 调试模式或未配置来源时放开所有来源.
func CORSMiddleware(cfg configs.ServerConfig, auth configs.AuthConfig) gin.HandlerFunc {
	conf := cors.DefaultConfig()
	conf.AllowWebSockets = true
	conf.AllowCredentials = cfg.CORS.AllowCredentials
	conf.MaxAge = cfg.CORS.MaxAge
	conf.AddAllowHeaders("Authorization")
	conf.AddAllowHeaders(auth.Headers()...)
	conf.AddExposeHeaders("Retry-After", "X-Request-ID")

	if cfg.Debug || len(cfg.CORS.AllowOrigins) == 0 {
		conf.AllowAllOrigins = true
		// 通配来源不能携带凭据
		conf.AllowCredentials = false
	} else {
		conf.AllowOrigins = cfg.CORS.AllowOrigins
	}

	return cors.New(conf)
}
