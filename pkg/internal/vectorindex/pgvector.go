package vectorindex

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// PGVector 基于 postgres pgvector 扩展的索引，条目存放在 file_vectors 表.
type PGVector struct {
	db *gorm.DB
}

// NewPGVector 创建索引并迁移 file_vectors 表.
func NewPGVector(ctx context.Context, db *gorm.DB, createExtension bool) (*PGVector, error) {
	if createExtension {
		if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return nil, errors.Wrap(err, "create vector extension")
		}
	}

	if err := db.WithContext(ctx).AutoMigrate(&model.FileVector{}); err != nil {
		return nil, errors.Wrap(err, "migrate file_vectors")
	}

	return &PGVector{db: db}, nil
}

// Name 索引名.
func (p *PGVector) Name() string { return "pgvector" }

// Insert 以 file_id 为键写入或覆盖.
func (p *PGVector) Insert(ctx context.Context, e Entry) error {
	row := model.FileVector{
		FileID:    e.FileID,
		TenantID:  e.TenantID,
		Category:  e.Category,
		SHA256:    e.SHA256,
		Embedding: pgvector.NewVector(e.Vector),
		CreatedAt: e.CreatedAt,
	}

	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "file_id"}}, UpdateAll: true}).
		Create(&row).Error

	return errors.Wrap(err, "insert vector")
}

// Nearest 按余弦距离排序.
func (p *PGVector) Nearest(ctx context.Context, q Query) ([]Neighbor, error) {
	k := q.K
	if k <= 0 {
		k = 1
	}

	vec := pgvector.NewVector(q.Vector)

	var rows []struct {
		FileID   string
		Distance float64
	}

	err := p.db.WithContext(ctx).Model(&model.FileVector{}).
		Select("file_id, embedding <=> ? AS distance", vec).
		Where("tenant_id = ? AND category = ? AND file_id <> ?", q.TenantID, q.Category, q.Exclude).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}, WithoutParentheses: true}}).
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "nearest vectors")
	}

	out := make([]Neighbor, 0, len(rows))
	for _, r := range rows {
		out = append(out, Neighbor{FileID: r.FileID, Score: 1 - r.Distance})
	}

	return out, nil
}

// Vectors 批量读取.
func (p *PGVector) Vectors(ctx context.Context, fileIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(fileIDs))
	if len(fileIDs) == 0 {
		return out, nil
	}

	var rows []model.FileVector
	if err := p.db.WithContext(ctx).Where("file_id IN ?", fileIDs).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load vectors")
	}

	for _, r := range rows {
		out[r.FileID] = r.Embedding.Slice()
	}

	return out, nil
}

// Delete 删除条目.
func (p *PGVector) Delete(ctx context.Context, fileID string) error {
	err := p.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&model.FileVector{}).Error

	return errors.Wrap(err, "delete vector")
}
