// Package types 定义 HTTP 请求与响应结构体.
package types

import (
	"time"

	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// FileResponse 文件与去重状态.
type FileResponse struct {
	FileID       string             `json:"file_id"`
	FileName     string             `json:"filename"`
	ObjectKey    string             `json:"object_key"`
	ContentType  string             `json:"content_type,omitempty"`
	Category     model.Category     `json:"category"`
	Size         int64              `json:"size"`
	SHA256       string             `json:"sha256_hash,omitempty"`
	DuplicateOf  *string            `json:"duplicate_of,omitempty"`
	ClusterID    *string            `json:"cluster_id,omitempty"`
	ClusterState model.ClusterState `json:"cluster_state"`
	CreatedAt    time.Time          `json:"created_at"`
}

// NewFileResponse 由文件记录构造响应，精确重复文件的哈希取自 Digest.
func NewFileResponse(f *model.File) FileResponse {
	sha := f.Digest
	if f.SHA256 != nil {
		sha = *f.SHA256
	}

	return FileResponse{
		FileID:       f.ID,
		FileName:     f.FileName,
		ObjectKey:    f.ObjectKey,
		ContentType:  f.ContentType,
		Category:     f.Category,
		Size:         f.Size,
		SHA256:       sha,
		DuplicateOf:  f.DuplicateOfID,
		ClusterID:    f.ClusterID,
		ClusterState: f.ClusterState,
		CreatedAt:    f.CreatedAt,
	}
}

// ClusterResponse 簇与成员.
type ClusterResponse struct {
	ClusterID            string         `json:"cluster_id"`
	Category             model.Category `json:"category"`
	IntraSimilarityScore float64        `json:"intra_similarity_score"`
	MemberCount          int            `json:"member_count"`
	Version              int64          `json:"version"`
	Members              []string       `json:"members"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewClusterResponse 由簇与成员列表构造响应.
func NewClusterResponse(c *model.Cluster, members []string) ClusterResponse {
	return ClusterResponse{
		ClusterID:            c.ID,
		Category:             c.Category,
		IntraSimilarityScore: c.IntraSimilarityScore,
		MemberCount:          c.MemberCount,
		Version:              c.Version,
		Members:              members,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

// ErrorResponse 统一错误响应.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
