package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/dedupvault/pkg/configs"
	ctxPkg "github.com/yeisme/dedupvault/pkg/context"
	"github.com/yeisme/dedupvault/pkg/errs"
)

// TenantKey gin 上下文中租户的键.
const TenantKey = "tenant"

// AuthMiddleware 识别请求所属租户.
// 依次读取 conf.Headers()，开发模式下再看 ?tenant=；关闭校验时所有请求归属 conf.DefaultTenant.
func AuthMiddleware(conf configs.AuthConfig) gin.HandlerFunc {
	headers := conf.Headers()
	maxLen := conf.MaxTenantLength

	return func(c *gin.Context) {
		if !conf.Enabled {
			setTenant(c, conf.DefaultTenant)
			c.Next()

			return
		}

		if isSkippedPath(c.Request.URL.Path, conf.SkipPaths) {
			c.Next()
			return
		}

		tenant := tenantFromRequest(c, headers, conf.DevAllowQuery)

		switch {
		case tenant == "":
			abort(c, http.StatusUnauthorized, "unauthorized", "tenant identity is required")
		case maxLen > 0 && len(tenant) > maxLen:
			abort(c, http.StatusBadRequest, errs.CodeValidation, "tenant identity is too long")
		default:
			setTenant(c, tenant)
			c.Next()
		}
	}
}

func tenantFromRequest(c *gin.Context, headers []string, allowQuery bool) string {
	for _, h := range headers {
		if h == "" {
			continue
		}

		if v := strings.TrimSpace(c.GetHeader(h)); v != "" {
			return v
		}
	}

	if allowQuery {
		return strings.TrimSpace(c.Query("tenant"))
	}

	return ""
}

func setTenant(c *gin.Context, tenant string) {
	c.Set(TenantKey, tenant)
	c.Request = c.Request.WithContext(ctxPkg.WithTenant(c.Request.Context(), tenant))
}

// GetTenant 返回当前请求的租户，未识别时为空串.
func GetTenant(c *gin.Context) string {
	return c.GetString(TenantKey)
}

func isSkippedPath(path string, skips []string) bool {
	if path == "" || len(skips) == 0 {
		return false
	}

	for _, p := range skips {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}
