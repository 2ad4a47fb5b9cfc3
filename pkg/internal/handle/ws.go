package handle

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/log"
)

// Subscribe 升级为 websocket，推送已订阅任务的状态变化.
//
//	@Summary		任务事件推送
//	@Description	客户端发送 {"type":"subscribe","job_id":"..."} 订阅，支持 unsubscribe 与 ping
//	@Tags			任务
//	@Success		101
//	@Router			/ws [get]
func (h *Handlers) Subscribe(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	// 升级失败时 upgrader 已写入 HTTP 错误响应
	if err := h.Hub.Serve(c.Writer, c.Request, t); err != nil {
		l := log.Logger()
		l.Warn().Err(err).Str("tenant", t).Msg("websocket session ended with error")
	}
}
