package embedding

import (
	"context"
	"net/http"
	"sync"

	"github.com/golang/groupcache"
)

// PeerBasePath groupcache 节点间通信路径.
const PeerBasePath = "/_groupcache/"

var (
	poolOnce sync.Once
	pool     *groupcache.HTTPPool
)

// PeerHandler 配置多节点共享的记忆化缓存，返回需要挂到 PeerBasePath 下的 handler.
// self 为本节点地址，peers 为其他节点地址.
func (e *Embedder) PeerHandler(self string, peers []string) http.Handler {
	poolOnce.Do(func() {
		pool = groupcache.NewHTTPPoolOpts(self, &groupcache.HTTPPoolOptions{BasePath: PeerBasePath})
	})

	pool.Set(append([]string{self}, peers...)...)
	pool.Context = func(r *http.Request) context.Context { return withEmbedder(r.Context(), e) }

	return pool
}
