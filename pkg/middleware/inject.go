package middleware

import (
	"github.com/gin-gonic/gin"

	ctxPkg "github.com/yeisme/dedupvault/pkg/context"
	"github.com/yeisme/dedupvault/pkg/internal/storage"
	"github.com/yeisme/dedupvault/pkg/scheduler"
)

// InjectMiddleware 把存储管理器与调度器放进请求上下文，供健康检查与调度器路由读取.
// 任一参数为 nil 时对应的读取返回 nil.
func InjectMiddleware(manager *storage.Manager, sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if manager != nil {
			ctx = ctxPkg.WithStorageManager(ctx, manager)
		}

		if sched != nil {
			ctx = ctxPkg.WithScheduler(ctx, sched)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
