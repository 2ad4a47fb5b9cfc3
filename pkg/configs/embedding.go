package configs

import (
	"github.com/spf13/viper"
)

// EmbeddingConfig 向量化配置，每个媒体类别一个提供者.
type EmbeddingConfig struct {
	Document      EmbeddingProviderConfig `mapstructure:"document"`
	Image         EmbeddingProviderConfig `mapstructure:"image"`
	MaxInputBytes int64                   `mapstructure:"max_input_bytes" rule:"min=1"`
	Cache         EmbeddingCacheConfig    `mapstructure:"cache"`
}

// EmbeddingProviderConfig 单个提供者配置.
type EmbeddingProviderConfig struct {
	Provider  string `mapstructure:"provider"   rule:"oneof=openai hash"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"  rule:"min=1"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"   rule:"omitempty,url"`
}

// EmbeddingCacheConfig groupcache 记忆化配置.
type EmbeddingCacheConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	SizeBytes int64    `mapstructure:"size_bytes" rule:"min=0"`
	Self      string   `mapstructure:"self"`  // 本节点 peer 地址，空表示单节点
	Peers     []string `mapstructure:"peers"` // 其他节点地址
}

func (c *EmbeddingConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("embedding.document.provider", "hash")
	v.SetDefault("embedding.document.model", "text-embedding-3-small")
	v.SetDefault("embedding.document.dimension", 384)
	v.SetDefault("embedding.document.api_key", "")
	v.SetDefault("embedding.document.base_url", "")

	v.SetDefault("embedding.image.provider", "hash")
	v.SetDefault("embedding.image.model", "")
	v.SetDefault("embedding.image.dimension", 256)
	v.SetDefault("embedding.image.api_key", "")
	v.SetDefault("embedding.image.base_url", "")

	v.SetDefault("embedding.max_input_bytes", 32*1024)

	v.SetDefault("embedding.cache.enabled", true)
	v.SetDefault("embedding.cache.size_bytes", 64<<20)
	v.SetDefault("embedding.cache.self", "")
	v.SetDefault("embedding.cache.peers", []string{})
}
