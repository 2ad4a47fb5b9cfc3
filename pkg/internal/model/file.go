package model

import (
	"path/filepath"
	"strings"
	"time"
)

// Category 媒体类别，决定向量化模型与近邻检索范围.
type Category string

const (
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
)

// ClusterState 文件相对聚类的状态: unassigned -> pending_decision -> joined | new_cluster.
// 精确重复的文件直接进入 duplicate，不参与聚类.
type ClusterState string

const (
	ClusterStateUnassigned      ClusterState = "unassigned"
	ClusterStatePendingDecision ClusterState = "pending_decision"
	ClusterStateJoined          ClusterState = "joined"
	ClusterStateNewCluster      ClusterState = "new_cluster"
	ClusterStateDuplicate       ClusterState = "duplicate"
)

// Assigned 是否已是终态.
func (s ClusterState) Assigned() bool {
	return s == ClusterStateJoined || s == ClusterStateNewCluster || s == ClusterStateDuplicate
}

// File 文件模型，对象内容保存在对象存储，这里只保存引用与去重结果.
type File struct {
	ID          string   `gorm:"primaryKey;size:36"                 json:"file_id"`
	TenantID    string   `gorm:"size:255;not null;index;uniqueIndex:idx_files_tenant_sha,priority:1" json:"tenant_id"`
	FileName    string   `gorm:"size:255;not null"                  json:"filename"`
	ObjectKey   string   `gorm:"size:1024;not null"                 json:"object_key"`
	ContentType string   `gorm:"size:255"                           json:"content_type"`
	Category    Category `gorm:"size:32;not null;index"             json:"category"`
	Size        int64    `json:"size"`
	// SHA256 只在规范文件（非精确重复）上设置，租户内唯一由数据库保证
	SHA256 *string `gorm:"size:64;uniqueIndex:idx_files_tenant_sha,priority:2" json:"sha256_hash,omitempty"`
	// Digest 所有已处理文件的哈希，便于排查
	Digest        string       `gorm:"size:64;index"           json:"digest,omitempty"`
	DuplicateOfID *string      `gorm:"size:36;index"           json:"duplicate_of,omitempty"`
	ClusterID     *string      `gorm:"size:36;index"           json:"cluster_id,omitempty"`
	ClusterState  ClusterState `gorm:"size:32;not null;default:unassigned" json:"cluster_state"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {}, ".tiff": {}, ".tif": {},
}

// ClassifyCategory 根据声明的内容类型判断媒体类别，内容类型缺失或为通用二进制时退回扩展名.
func ClassifyCategory(contentType, filename string) Category {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	switch {
	case strings.HasPrefix(ct, "image/"):
		return CategoryImage
	case ct != "" && ct != "application/octet-stream":
		return CategoryDocument
	}

	if _, ok := imageExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return CategoryImage
	}

	return CategoryDocument
}
