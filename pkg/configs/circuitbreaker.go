package configs

import (
	"time"

	"github.com/spf13/viper"
)

// CircuitBreakerConfig 熔断配置.
// 业务路由、向量化提供者与 pgvector 索引各自使用一个同参数的熔断器.
type CircuitBreakerConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	FailureRate       float64 `mapstructure:"failure_rate"         rule:"gt=0,max=1"`
	MinRequests       uint32  `mapstructure:"min_requests"         rule:"min=1"`
	IntervalSeconds   int     `mapstructure:"interval_seconds"     rule:"min=0"` // 0 表示关闭状态下不清零计数
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"      rule:"min=1"` // 打开多久后进入半开
	MaxRequestsInHalf uint32  `mapstructure:"max_requests_in_half" rule:"min=1"`
}

// Interval 关闭状态下的计数周期.
func (c CircuitBreakerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout 打开状态持续时间.
func (c CircuitBreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *CircuitBreakerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.failure_rate", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 20)
	v.SetDefault("circuit_breaker.interval_seconds", 60)
	v.SetDefault("circuit_breaker.timeout_seconds", 30)
	v.SetDefault("circuit_breaker.max_requests_in_half", 5)
}
