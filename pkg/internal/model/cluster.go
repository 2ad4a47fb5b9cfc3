package model

import "time"

// Cluster 近似重复文件簇，IntraSimilarityScore 始终是当前成员的平均两两余弦相似度.
// Version 用于乐观并发控制，每次成员变更加一.
type Cluster struct {
	ID                   string    `gorm:"primaryKey;size:36"    json:"cluster_id"`
	TenantID             string    `gorm:"size:255;not null;index" json:"tenant_id"`
	Category             Category  `gorm:"size:32;not null"      json:"category"`
	IntraSimilarityScore float64   `gorm:"not null"              json:"intra_similarity_score"`
	MemberCount          int       `gorm:"not null"              json:"member_count"`
	Version              int64     `gorm:"not null;default:1"    json:"version"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
