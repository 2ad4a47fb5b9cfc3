package configs

import "github.com/spf13/viper"

// 相似度索引类型.
const (
	IndexMemory   = "memory"
	IndexPGVector = "pgvector"
)

// IndexConfig 相似度索引配置，pgvector 需要 postgres 元数据库.
type IndexConfig struct {
	Type            string `mapstructure:"type"             rule:"oneof=memory pgvector"`
	CreateExtension bool   `mapstructure:"create_extension"`
}

func (c *IndexConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("index.type", "memory")
	v.SetDefault("index.create_extension", true)
}
