package configs

import (
	"github.com/spf13/viper"
)

// KVConfig 上传会话存储配置.
type KVConfig struct {
	Type  string       `mapstructure:"type"  rule:"oneof=memory redis nats"`
	Redis RedisConfig  `mapstructure:"redis"`
	NATS  NATSKVConfig `mapstructure:"nats"`
}

// NATSKVConfig JetStream KV 桶配置.
type NATSKVConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Bucket   string `mapstructure:"bucket"   rule:"required"`
	Replicas int    `mapstructure:"replicas" rule:"min=1,max=5"`
}

func (c *KVConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("kv.type", "memory")

	setRedisDefaults(v, "kv.redis", "dedupvault:kv")

	v.SetDefault("kv.nats.url", "nats://localhost:4222")
	v.SetDefault("kv.nats.bucket", "dedupvault-sessions")
	v.SetDefault("kv.nats.replicas", 1)
}
