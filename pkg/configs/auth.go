package configs

import "github.com/spf13/viper"

// AuthConfig 租户识别. 令牌由前置代理（如 oauth2-proxy）校验，服务只读取代理注入的身份头.
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TenantHeader string `mapstructure:"tenant_header" rule:"required"`
	// IdentityHeaders TenantHeader 缺失时依次尝试.
	IdentityHeaders []string `mapstructure:"identity_headers"`
	// DefaultTenant 关闭校验时所有请求归属的租户.
	DefaultTenant   string `mapstructure:"default_tenant"    rule:"required"`
	MaxTenantLength int    `mapstructure:"max_tenant_length" rule:"min=1,max=255"`
	// SkipPaths 按前缀匹配，不要求租户.
	SkipPaths []string `mapstructure:"skip_paths"`
	// DevAllowQuery 允许 ?tenant=，仅本地调试.
	DevAllowQuery bool `mapstructure:"dev_allow_query"`
}

// Headers 按优先级返回读取租户的请求头.
func (c AuthConfig) Headers() []string {
	return append([]string{c.TenantHeader}, c.IdentityHeaders...)
}

func (c *AuthConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.tenant_header", "X-Tenant-ID")
	v.SetDefault("auth.identity_headers", []string{"X-Auth-Request-Email", "X-Forwarded-Email"})
	v.SetDefault("auth.default_tenant", "default")
	v.SetDefault("auth.max_tenant_length", 255)
	v.SetDefault("auth.dev_allow_query", false)
	v.SetDefault("auth.skip_paths", []string{
		"/metrics",
		"/debug/pprof",
		"/api/v1/health",
		"/swagger",
		"/_groupcache",
	})
}
