// Package vectorindex 提供按租户与媒体类别隔离的相似度索引.
package vectorindex

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// Entry 索引条目.
type Entry struct {
	FileID    string
	TenantID  string
	Category  model.Category
	SHA256    string
	Vector    []float32
	CreatedAt time.Time
}

// Neighbor 近邻查询结果，Score 为余弦相似度.
type Neighbor struct {
	FileID string
	Score  float64
}

// Query 近邻查询条件.
type Query struct {
	TenantID string
	Category model.Category
	Vector   []float32
	K        int
	// Exclude 排除的文件 ID，通常是查询文件自身
	Exclude string
}

// Index 相似度索引.
type Index interface {
	Name() string
	// Insert 写入或覆盖条目
	Insert(ctx context.Context, e Entry) error
	// Nearest 返回同租户同类别下相似度最高的 K 个条目，降序
	Nearest(ctx context.Context, q Query) ([]Neighbor, error)
	// Vectors 批量读取向量，缺失的 ID 不出现在结果中
	Vectors(ctx context.Context, fileIDs []string) (map[string][]float32, error)
	Delete(ctx context.Context, fileID string) error
}

// New 按配置创建索引，pgvector 需要 PostgreSQL 连接.
func New(ctx context.Context, cfg configs.IndexConfig, db *gorm.DB) (Index, error) {
	switch cfg.Type {
	case configs.IndexMemory, "":
		return NewMemory(), nil
	case configs.IndexPGVector:
		if db == nil {
			return nil, errors.New("pgvector index requires a database connection")
		}

		return NewPGVector(ctx, db, cfg.CreateExtension)
	default:
		return nil, errors.Newf("unsupported index type: %s", cfg.Type)
	}
}
