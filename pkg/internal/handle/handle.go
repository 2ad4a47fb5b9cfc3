// Package handle 提供 HTTP 请求处理器，负责参数绑定、租户提取与错误渲染，业务逻辑在 service 中.
package handle

import (
	"net/http"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	ctxPkg "github.com/yeisme/dedupvault/pkg/context"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/notify"
	"github.com/yeisme/dedupvault/pkg/internal/service"
	"github.com/yeisme/dedupvault/pkg/internal/types"
	"github.com/yeisme/dedupvault/pkg/middleware"
	"github.com/yeisme/dedupvault/pkg/rule"
)

// Handlers 由应用层注入服务后绑定到路由.
type Handlers struct {
	Uploads *service.UploadService
	Jobs    *service.JobService
	Files   *service.FileService
	Hub     *notify.Hub
}

// DefaultHandler 未实现的占位处理器.
func DefaultHandler(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, types.ErrorResponse{Error: "not implemented", Code: "not_implemented"})
}

// tenant 返回请求所属租户，缺失时直接响应 401.
func tenant(c *gin.Context) (string, bool) {
	t := middleware.GetTenant(c)
	if t == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "tenant identity is required", Code: "unauthorized"})
		return "", false
	}

	return t, true
}

// bindError 把绑定或校验失败转换为 ValidationError.
func bindError(err error) error {
	if fields := rule.Errors(err); len(fields) > 0 {
		msgs := make([]string, 0, len(fields))
		for f, m := range fields {
			msgs = append(msgs, f+": "+m)
		}

		slices.Sort(msgs)

		return errs.Validation("%s", strings.Join(msgs, "; "))
	}

	return errs.Validation("invalid request: %v", err)
}

// fail 按错误分类渲染 {"error","code"}，未分类错误不向客户端暴露细节.
func fail(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	code := errs.Kind(err)
	msg := err.Error()

	l := ctxPkg.Logger(c.Request.Context())

	switch {
	case status >= http.StatusInternalServerError:
		l.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")

		if code == errs.CodeInternal {
			msg = "internal server error"
		}
	case errors.Is(err, errs.ErrConsistencyConflict):
		l.Warn().Err(err).Str("path", c.FullPath()).Msg("request conflicted")
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, types.ErrorResponse{Error: msg, Code: code})
}
