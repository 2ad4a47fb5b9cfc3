package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/internal/types"
)

// GetJob 查询任务状态.
//
//	@Summary		查询任务
//	@Tags			任务
//	@Produce		json
//	@Param			id	path		string				true	"任务 ID"
//	@Success		200	{object}	types.JobResponse	"任务状态，完成时带结果"
//	@Failure		404	{object}	types.ErrorResponse	"任务不存在"
//	@Router			/jobs/{id} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	resp, err := h.Jobs.Get(c.Request.Context(), t, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs 分页列出任务.
//
//	@Summary		列出任务
//	@Tags			任务
//	@Produce		json
//	@Param			status	query		string	false	"pending | processing | completed | failed"
//	@Param			limit	query		int		false	"默认 50，最大 100"
//	@Param			offset	query		int		false	"偏移"
//	@Success		200		{object}	types.ListJobsResponse
//	@Failure		400		{object}	types.ErrorResponse	"请求参数错误"
//	@Router			/jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	var q types.ListJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, bindError(err))
		return
	}

	resp, err := h.Jobs.List(c.Request.Context(), t, &q)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RetryJob 手动重试失败任务.
//
//	@Summary		重试任务
//	@Tags			任务
//	@Produce		json
//	@Param			id	path		string				true	"任务 ID"
//	@Success		200	{object}	types.JobResponse	"已重新置为 pending"
//	@Failure		404	{object}	types.ErrorResponse	"任务不存在"
//	@Failure		409	{object}	types.ErrorResponse	"任务不是 failed 状态"
//	@Router			/jobs/{id}/retry [post]
func (h *Handlers) RetryJob(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	resp, err := h.Jobs.Retry(c.Request.Context(), t, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteJob 删除任务记录.
//
//	@Summary		删除任务
//	@Tags			任务
//	@Param			id	path	string	true	"任务 ID"
//	@Success		204
//	@Failure		404	{object}	types.ErrorResponse	"任务不存在"
//	@Failure		409	{object}	types.ErrorResponse	"任务处理中"
//	@Router			/jobs/{id} [delete]
func (h *Handlers) DeleteJob(c *gin.Context) {
	t, ok := tenant(c)
	if !ok {
		return
	}

	if err := h.Jobs.Delete(c.Request.Context(), t, c.Param("id")); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
