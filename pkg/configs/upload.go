package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultChunkSize 默认分片大小 5MiB，同时是 S3 非末片的最小值.
	DefaultChunkSize = 5 * 1024 * 1024
	// MaxPartNumber S3 multipart 允许的最大分片号.
	MaxPartNumber = 10000
)

// UploadConfig 分片上传配置.
type UploadConfig struct {
	ChunkSize            int64         `mapstructure:"chunk_size"             rule:"min=1"`
	SessionTTL           time.Duration `mapstructure:"session_ttl"            rule:"gt=0"`
	SessionRetention     time.Duration `mapstructure:"session_retention"      rule:"min=0"`
	PresignDefaultExpiry time.Duration `mapstructure:"presign_default_expiry" rule:"gt=0"`
	PresignMaxExpiry     time.Duration `mapstructure:"presign_max_expiry"     rule:"gt=0,max=168h"`
	MaxParts             int           `mapstructure:"max_parts"              rule:"min=1,max=10000"`
	AllowedCategories    []string      `mapstructure:"allowed_categories"     rule:"dive,oneof=document image"`
}

func (c *UploadConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("upload.chunk_size", DefaultChunkSize)
	v.SetDefault("upload.session_ttl", "24h")
	v.SetDefault("upload.session_retention", "1h")
	v.SetDefault("upload.presign_default_expiry", "3600s")
	v.SetDefault("upload.presign_max_expiry", "604800s")
	v.SetDefault("upload.max_parts", MaxPartNumber)
	v.SetDefault("upload.allowed_categories", []string{"document", "image"})
}
