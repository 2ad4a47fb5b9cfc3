package configs

import (
	"time"

	"github.com/spf13/viper"
)

// DedupConfig 去重与聚类配置.
//
// JoinThreshold 与 StabilityThreshold 是两个独立的阈值:
// 近邻相似度低于 JoinThreshold 时新建单例簇，否则尝试加入;
// 加入后簇内平均相似度低于 StabilityThreshold 则改为新建单例簇.
type DedupConfig struct {
	JoinThreshold      float64       `mapstructure:"join_threshold"       rule:"gte=-1,lte=1"`
	StabilityThreshold float64       `mapstructure:"stability_threshold"  rule:"gte=-1,lte=1"`
	MaxConflictRetries int           `mapstructure:"max_conflict_retries" rule:"min=1"`
	ConflictBackoff    time.Duration `mapstructure:"conflict_backoff"     rule:"min=0"`
	NeighborCount      int           `mapstructure:"neighbor_count"       rule:"min=1,max=100"`
}

func (c *DedupConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("dedup.join_threshold", 0.75)
	v.SetDefault("dedup.stability_threshold", 0.8)
	v.SetDefault("dedup.max_conflict_retries", 5)
	v.SetDefault("dedup.conflict_backoff", "20ms")
	v.SetDefault("dedup.neighbor_count", 1)
}
