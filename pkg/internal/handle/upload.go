package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/internal/types"
)

// InitiateUpload 开始分片上传.
//
//	@Summary		开始分片上传
//	@Description	校验文件名与媒体类别，返回上传会话与建议分片大小
//	@Tags			上传
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.InitiateUploadRequest		true	"上传请求"
//	@Success		200		{object}	types.InitiateUploadResponse	"上传会话"
//	@Failure		400		{object}	types.ErrorResponse				"请求参数错误"
//	@Failure		502		{object}	types.ErrorResponse				"对象存储不可用"
//	@Router			/upload/initiate [post]
func (h *Handlers) InitiateUpload(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	var req types.InitiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}

	resp, err := h.Uploads.Initiate(c.Request.Context(), t, &req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// PresignPart 为一个分片签发上传地址.
//
//	@Summary		获取分片上传地址
//	@Description	分片号 1..10000，地址有效期默认 3600 秒，最长 604800 秒
//	@Tags			上传
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.PresignPartRequest	true	"分片请求"
//	@Success		200		{object}	types.PresignPartResponse	"预签名地址"
//	@Failure		400		{object}	types.ErrorResponse			"请求参数错误"
//	@Failure		404		{object}	types.ErrorResponse			"会话不存在"
//	@Failure		410		{object}	types.ErrorResponse			"会话已过期"
//	@Router			/upload/presigned-url [post]
func (h *Handlers) PresignPart(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	var req types.PresignPartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}

	resp, err := h.Uploads.AuthorizePart(c.Request.Context(), t, &req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CompleteUpload 完成上传并入队去重任务.
//
//	@Summary		完成分片上传
//	@Description	校验分片完整性后合并对象，创建文件并入队一个去重任务
//	@Tags			上传
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.CompleteUploadRequest		true	"完成请求，parts 为 [[n, etag], ...]"
//	@Success		200		{object}	types.CompleteUploadResponse	"文件与任务"
//	@Failure		400		{object}	types.ErrorResponse				"请求参数错误"
//	@Failure		409		{object}	types.ErrorResponse				"分片不完整"
//	@Failure		410		{object}	types.ErrorResponse				"会话已过期"
//	@Router			/upload/complete [post]
func (h *Handlers) CompleteUpload(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	var req types.CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}

	resp, err := h.Uploads.Complete(c.Request.Context(), t, &req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// AbortUpload 放弃上传.
//
//	@Summary		放弃分片上传
//	@Tags			上传
//	@Produce		json
//	@Param			id	path	string	true	"上传会话 ID"
//	@Success		204
//	@Failure		404	{object}	types.ErrorResponse	"会话不存在"
//	@Router			/upload/{id} [delete]
func (h *Handlers) AbortUpload(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	if err := h.Uploads.Abort(c.Request.Context(), t, c.Param("id")); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
