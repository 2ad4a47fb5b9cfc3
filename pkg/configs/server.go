package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort            = 8080      // 监听端口
	DefaultHost            = "0.0.0.0" // 监听地址
	DefaultReloadConfig    = true      // 是否启用配置热重载
	DefaultDebug           = false     // 是否启用调试模式
	DefaultTimeout         = 30        // 超时时间，单位秒
	DefaultShutdownTimeout = 15        // 优雅退出等待时间，单位秒
)

type (
	// ServerConfig 服务器配置.
	ServerConfig struct {
		Port            int        `mapstructure:"port"             rule:"min=1,max=65535"`
		Host            string     `mapstructure:"host"             rule:"ip"`
		ReloadConfig    bool       `mapstructure:"reload_config"`
		Debug           bool       `mapstructure:"debug"`
		Timeout         int        `mapstructure:"timeout"          rule:"min=1,max=300"`
		ShutdownTimeout int        `mapstructure:"shutdown_timeout" rule:"min=1,max=300"`
		Gzip            bool       `mapstructure:"gzip"`
		CORS            CORSConfig `mapstructure:"cors"`
	}

	// CORSConfig 跨域配置，AllowOrigins 为空时允许所有来源.
	CORSConfig struct {
		AllowOrigins     []string      `mapstructure:"allow_origins"     rule:"dive,url"`
		AllowCredentials bool          `mapstructure:"allow_credentials"`
		MaxAge           time.Duration `mapstructure:"max_age"           rule:"min=0"`
	}
)

// GetTimeoutDuration 返回超时时间作为time.Duration.
func (s *ServerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetShutdownTimeout 返回优雅退出等待时间.
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// setDefaults 设置服务器配置的默认值.
func (s *ServerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.reload_config", DefaultReloadConfig)
	v.SetDefault("server.debug", DefaultDebug)
	v.SetDefault("server.timeout", DefaultTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.gzip", true)
	v.SetDefault("server.cors.allow_origins", []string{})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.cors.max_age", 12*time.Hour)
}
