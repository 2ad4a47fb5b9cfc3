package configs

import (
	"math"
	"time"

	"github.com/spf13/viper"
)

// RetryMode 失败任务的重试方式.
type RetryMode string

const (
	// RetryModeManual 仅通过 POST /jobs/{id}/retry 重试.
	RetryModeManual RetryMode = "manual"
	// RetryModeAuto 定时任务按退避策略自动重试，手动重试仍可用.
	RetryModeAuto RetryMode = "auto"
)

// QueueConfig 任务队列配置.
type QueueConfig struct {
	Type              string           `mapstructure:"type"               rule:"oneof=db redis"`
	VisibilityTimeout time.Duration    `mapstructure:"visibility_timeout" rule:"gt=0"`
	MaxDeliveries     int              `mapstructure:"max_deliveries"     rule:"min=1"`
	PollInterval      time.Duration    `mapstructure:"poll_interval"      rule:"gt=0"`
	Redis             RedisConfig      `mapstructure:"redis"`
	Retry             RetryConfig      `mapstructure:"retry"`
}

// RetryConfig 重试策略.
type RetryConfig struct {
	Mode           RetryMode     `mapstructure:"mode"            rule:"oneof=manual auto"`
	MaxAttempts    int           `mapstructure:"max_attempts"    rule:"min=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" rule:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"     rule:"gt=0"`
	Multiplier     float64       `mapstructure:"multiplier"      rule:"gte=1"`
}

// Backoff 返回第 attempt 次重试（从 1 开始）前的等待时间.
func (r RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(r.InitialBackoff) * math.Pow(r.Multiplier, float64(attempt-1))
	if d > float64(r.MaxBackoff) || math.IsInf(d, 0) {
		return r.MaxBackoff
	}

	return time.Duration(d)
}

func (c *QueueConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("queue.type", "db")
	v.SetDefault("queue.visibility_timeout", "5m")
	v.SetDefault("queue.max_deliveries", 5)
	v.SetDefault("queue.poll_interval", "1s")

	setRedisDefaults(v, "queue.redis", "dedupvault:queue")

	v.SetDefault("queue.retry.mode", RetryModeAuto)
	v.SetDefault("queue.retry.max_attempts", 3)
	v.SetDefault("queue.retry.initial_backoff", "30s")
	v.SetDefault("queue.retry.max_backoff", "30m")
	v.SetDefault("queue.retry.multiplier", 2.0)
}
