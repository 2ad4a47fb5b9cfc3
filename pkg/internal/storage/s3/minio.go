package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yeisme/dedupvault/pkg/configs"
	nlog "github.com/yeisme/dedupvault/pkg/log"
)

// maxPartsPerList ListObjectParts 单页上限.
const maxPartsPerList = 1000

// Client 包装 MinIO 客户端，分片相关操作走 minio.Core.
type Client struct {
	*minio.Client
	core   *minio.Core
	bucket string
}

// NewMinio 初始化 MinIO 客户端，bucket 不存在时尝试创建.
func NewMinio(ctx context.Context, cfg configs.S3Config) (*Client, error) {
	endpoint := cfg.Endpoint
	// 允许用户传完整 schema endpoint（http:// 或 https://）
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			cfg.UseSSL = true
		}
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}

	core, err := minio.NewCore(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	core.SetAppInfo(configs.AppName, configs.AppVersion)

	exists, err := core.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.BucketName, err)
	}

	if !exists {
		if err := core.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.BucketName, err)
		}

		nlog.Component("s3").Info().Str("bucket", cfg.BucketName).Msg("bucket created")
	}

	nlog.Component("s3").Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.BucketName).Msg("s3 connected")

	return &Client{Client: core.Client, core: core, bucket: cfg.BucketName}, nil
}

// Bucket 返回桶名.
func (c *Client) Bucket() string {
	return c.bucket
}

// CreateMultipartUpload 开始分片上传.
func (c *Client) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	return c.core.NewMultipartUpload(ctx, c.bucket, key, minio.PutObjectOptions{ContentType: contentType})
}

// PresignUploadPart 生成 UploadPart 的预签名 URL.
func (c *Client) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("partNumber", strconv.Itoa(partNumber))
	params.Set("uploadId", uploadID)

	u, err := c.Presign(ctx, http.MethodPut, c.bucket, key, expiry, params)
	if err != nil {
		return "", err
	}

	return u.String(), nil
}

// ListParts 分页列出全部已上传分片.
func (c *Client) ListParts(ctx context.Context, key, uploadID string) ([]Part, error) {
	var (
		parts  []Part
		marker int
	)

	for {
		res, err := c.core.ListObjectParts(ctx, c.bucket, key, uploadID, marker, maxPartsPerList)
		if err != nil {
			return nil, err
		}

		for _, p := range res.ObjectParts {
			parts = append(parts, Part{PartNumber: p.PartNumber, ETag: NormalizeETag(p.ETag), Size: p.Size})
		}

		if !res.IsTruncated {
			break
		}

		marker = res.NextPartNumberMarker
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	return parts, nil
}

// CompleteMultipartUpload 合并分片.
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (ObjectInfo, error) {
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	info, err := c.core.CompleteMultipartUpload(ctx, c.bucket, key, uploadID, complete, minio.PutObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}

	return ObjectInfo{Key: key, ETag: NormalizeETag(info.ETag), Size: info.Size}, nil
}

// AbortMultipartUpload 放弃分片上传.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return c.core.AbortMultipartUpload(ctx, c.bucket, key, uploadID)
}

// Stat 读取对象信息.
func (c *Client) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := c.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}

		return ObjectInfo{}, err
	}

	return ObjectInfo{Key: key, ETag: NormalizeETag(info.ETag), Size: info.Size}, nil
}

// Open 读取对象.
func (c *Client) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	// GetObject 是惰性的，Stat 触发请求以便尽早暴露 NoSuchKey
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}

	return obj, nil
}

// Remove 删除对象.
func (c *Client) Remove(ctx context.Context, key string) error {
	err := c.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})

	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
		return nil
	}

	return err
}

// HealthCheck 检查桶是否可访问.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BucketExists(ctx, c.bucket)
	return err
}

// Close 关闭 S3 客户端连接（无实际操作，接口兼容）.
func (c *Client) Close() error {
	return nil
}
