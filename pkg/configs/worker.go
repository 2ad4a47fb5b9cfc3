package configs

import (
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig 工作池配置.
type WorkerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Count       int           `mapstructure:"count"        rule:"min=1,max=256"`
	IDPrefix    string        `mapstructure:"id_prefix"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"  rule:"min=0"` // 0 表示不限制
	IdleBackoff time.Duration `mapstructure:"idle_backoff" rule:"gt=0"`
}

func (c *WorkerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.id_prefix", "")
	v.SetDefault("worker.job_timeout", "0s")
	v.SetDefault("worker.idle_backoff", "1s")
}
