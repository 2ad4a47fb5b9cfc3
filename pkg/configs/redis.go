package configs

import (
	"time"

	"github.com/spf13/viper"
)

// RedisConfig 会话存储、任务队列与事件总线共用的 Redis 连接配置.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"         rule:"omitempty,hostname_port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"           rule:"min=0,max=15"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	PoolSize    int           `mapstructure:"pool_size"    rule:"min=0"` // 0 使用 go-redis 默认值
	DialTimeout time.Duration `mapstructure:"dial_timeout" rule:"min=0"`
}

// Key 拼接带前缀的键.
func (c RedisConfig) Key(parts ...string) string {
	key := c.KeyPrefix
	for _, p := range parts {
		if key != "" {
			key += ":"
		}

		key += p
	}

	return key
}

func setRedisDefaults(v *viper.Viper, section, keyPrefix string) {
	v.SetDefault(section+".addr", "localhost:6379")
	v.SetDefault(section+".password", "")
	v.SetDefault(section+".db", 0)
	v.SetDefault(section+".key_prefix", keyPrefix)
	v.SetDefault(section+".pool_size", 0)
	v.SetDefault(section+".dial_timeout", 5*time.Second)
}
