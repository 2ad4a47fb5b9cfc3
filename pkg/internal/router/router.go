// Package router 管理路由配置，把 handle 中的处理器绑定到 gin 路由组.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/internal/handle"
)

// Register 将业务路由绑定到传入的 gin 路由组.
// handlers 为 nil 时绑定返回 501 的占位实现，服务仍可启动.
// 绑定的路径:
//
//	POST   /upload/initiate
//	POST   /upload/presigned-url
//	POST   /upload/complete
//	DELETE /upload/:id
//	GET    /jobs
//	GET    /jobs/:id
//	DELETE /jobs/:id
//	POST   /jobs/:id/retry
//	GET    /files/:id
//	DELETE /files/:id
//	GET    /clusters/:id
//	GET    /ws
func Register(g *gin.RouterGroup, h *handle.Handlers) {
	if h == nil {
		registerPlaceholders(g)
		return
	}

	upload := g.Group("/upload")
	{
		upload.POST("/initiate", h.InitiateUpload)
		upload.POST("/presigned-url", h.PresignPart)
		upload.POST("/complete", h.CompleteUpload)
		upload.DELETE("/:id", h.AbortUpload)
	}

	jobs := g.Group("/jobs")
	{
		jobs.GET("", h.ListJobs)
		jobs.GET("/:id", h.GetJob)
		jobs.DELETE("/:id", h.DeleteJob)
		jobs.POST("/:id/retry", h.RetryJob)
	}

	g.GET("/files/:id", h.GetFile)
	g.DELETE("/files/:id", h.DeleteFile)
	g.GET("/clusters/:id", h.GetCluster)

	if h.Hub != nil {
		g.GET("/ws", h.Subscribe)
	}
}

func registerPlaceholders(g *gin.RouterGroup) {
	for _, p := range []string{"/upload/initiate", "/upload/presigned-url", "/upload/complete", "/jobs/:id/retry"} {
		g.POST(p, handle.DefaultHandler)
	}

	for _, p := range []string{"/jobs", "/jobs/:id", "/files/:id", "/clusters/:id"} {
		g.GET(p, handle.DefaultHandler)
	}

	for _, p := range []string{"/upload/:id", "/jobs/:id", "/files/:id"} {
		g.DELETE(p, handle.DefaultHandler)
	}
}
