package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetFile 查询文件与去重状态.
//
//	@Summary		查询文件
//	@Tags			文件
//	@Produce		json
//	@Param			id	path		string				true	"文件 ID"
//	@Success		200	{object}	types.FileResponse
//	@Failure		404	{object}	types.ErrorResponse	"文件不存在"
//	@Router			/files/{id} [get]
func (h *Handlers) GetFile(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	resp, err := h.Files.Get(c.Request.Context(), t, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteFile 硬删除文件.
//
//	@Summary		删除文件
//	@Description	移出所在簇并重算分数，删除索引条目、任务、记录与对象
//	@Tags			文件
//	@Param			id	path	string	true	"文件 ID"
//	@Success		204
//	@Failure		404	{object}	types.ErrorResponse	"文件不存在"
//	@Router			/files/{id} [delete]
func (h *Handlers) DeleteFile(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	if err := h.Files.Delete(c.Request.Context(), t, c.Param("id")); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetCluster 查询簇与成员.
//
//	@Summary		查询簇
//	@Tags			文件
//	@Produce		json
//	@Param			id	path		string				true	"簇 ID"
//	@Success		200	{object}	types.ClusterResponse
//	@Failure		404	{object}	types.ErrorResponse	"簇不存在"
//	@Router			/clusters/{id} [get]
func (h *Handlers) GetCluster(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	resp, err := h.Files.Cluster(c.Request.Context(), t, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
