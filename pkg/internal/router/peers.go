package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/internal/embedding"
)

// RegisterPeerRoute 挂载 groupcache 节点间通信路由，handler 为 nil 时不注册.
func RegisterPeerRoute(r *gin.Engine, handler http.Handler) {
	if handler == nil {
		return
	}

	r.Any(embedding.PeerBasePath+"*path", gin.WrapH(handler))
}
