package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// FileVector pgvector 索引行，维度随类别变化所以列不固定维度.
type FileVector struct {
	FileID    string          `gorm:"primaryKey;size:36"`
	TenantID  string          `gorm:"size:255;not null;index:idx_file_vectors_scope,priority:1"`
	Category  Category        `gorm:"size:32;not null;index:idx_file_vectors_scope,priority:2"`
	SHA256    string          `gorm:"size:64"`
	Embedding pgvector.Vector `gorm:"type:vector;not null"`
	CreatedAt time.Time
}
