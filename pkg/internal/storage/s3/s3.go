// Package s3 处理对象存储操作：分片上传、预签名 URL、读取与删除.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yeisme/dedupvault/pkg/configs"
)

// ErrObjectNotFound 对象不存在.
var ErrObjectNotFound = errors.New("object not found")

// Part 已上传的分片.
type Part struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// ObjectInfo 合并完成后的对象信息.
type ObjectInfo struct {
	Key  string
	ETag string
	Size int64
}

// Store 对象存储能力，minio 与内存实现都满足它.
type Store interface {
	// Bucket 返回目标桶名.
	Bucket() string
	// CreateMultipartUpload 开始分片上传，返回对象存储的 upload id.
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	// PresignUploadPart 为单个分片生成 PUT 预签名 URL.
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error)
	// ListParts 列出已上传的分片，按分片号升序.
	ListParts(ctx context.Context, key, uploadID string) ([]Part, error)
	// CompleteMultipartUpload 按给定分片合并对象.
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (ObjectInfo, error)
	// AbortMultipartUpload 放弃分片上传并释放已上传分片.
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	// Stat 读取对象大小与 ETag，对象不存在时返回 ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Open 读取对象内容.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove 删除对象，对象不存在不是错误.
	Remove(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// New 按配置的驱动创建对象存储.
func New(ctx context.Context, cfg configs.S3Config) (Store, error) {
	switch cfg.Driver {
	case configs.S3DriverMemory:
		return NewMemoryStore(cfg.BucketName), nil
	case configs.S3DriverMinIO, "":
		return NewMinio(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported s3 driver: %s", cfg.Driver)
	}
}

// NormalizeETag 去掉 ETag 两侧的引号并转小写，便于比较客户端回传的值.
func NormalizeETag(etag string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(etag), `"`))
}
