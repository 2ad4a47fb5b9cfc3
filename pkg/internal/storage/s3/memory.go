package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // S3 ETag 语义
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/yeisme/dedupvault/pkg/internal/model"
)

type memoryUpload struct {
	key   string
	parts map[int][]byte
}

// MemoryStore 进程内对象存储，语义与 S3 分片上传一致，用于单机开发与测试.
type MemoryStore struct {
	bucket  string
	mu      sync.RWMutex
	objects map[string][]byte
	uploads map[string]*memoryUpload
}

// NewMemoryStore 创建内存对象存储.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string][]byte),
		uploads: make(map[string]*memoryUpload),
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Bucket 返回桶名.
func (m *MemoryStore) Bucket() string {
	return m.bucket
}

// CreateMultipartUpload 开始分片上传.
func (m *MemoryStore) CreateMultipartUpload(_ context.Context, key, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := model.NewULID()
	m.uploads[id] = &memoryUpload{key: key, parts: make(map[int][]byte)}

	return id, nil
}

// PresignUploadPart 返回 memory:// 形式的地址，客户端通过 UploadPart 模拟 PUT.
func (m *MemoryStore) PresignUploadPart(_ context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.uploads[uploadID]
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("NoSuchUpload: %s", uploadID)
	}

	q := url.Values{}
	q.Set("partNumber", strconv.Itoa(partNumber))
	q.Set("uploadId", uploadID)
	q.Set("X-Amz-Expires", strconv.Itoa(int(expiry.Seconds())))

	u := url.URL{Scheme: "memory", Host: m.bucket, Path: "/" + key, RawQuery: q.Encode()}

	return u.String(), nil
}

// UploadPart 写入一个分片，返回 ETag.
func (m *MemoryStore) UploadPart(_ context.Context, uploadID string, partNumber int, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("NoSuchUpload: %s", uploadID)
	}

	up.parts[partNumber] = bytes.Clone(data)

	return etagOf(data), nil
}

// ListParts 列出已上传分片.
func (m *MemoryStore) ListParts(_ context.Context, _, uploadID string) ([]Part, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	up, ok := m.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("NoSuchUpload: %s", uploadID)
	}

	parts := make([]Part, 0, len(up.parts))
	for n, data := range up.parts {
		parts = append(parts, Part{PartNumber: n, ETag: etagOf(data), Size: int64(len(data))})
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	return parts, nil
}

// CompleteMultipartUpload 按给定顺序拼接分片.
func (m *MemoryStore) CompleteMultipartUpload(_ context.Context, key, uploadID string, parts []Part) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.uploads[uploadID]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("NoSuchUpload: %s", uploadID)
	}

	var buf bytes.Buffer

	for _, p := range parts {
		data, ok := up.parts[p.PartNumber]
		if !ok || etagOf(data) != NormalizeETag(p.ETag) {
			return ObjectInfo{}, fmt.Errorf("InvalidPart: %d", p.PartNumber)
		}

		buf.Write(data)
	}

	m.objects[key] = buf.Bytes()
	delete(m.uploads, uploadID)

	return ObjectInfo{Key: key, ETag: etagOf(buf.Bytes()), Size: int64(buf.Len())}, nil
}

// AbortMultipartUpload 放弃分片上传.
func (m *MemoryStore) AbortMultipartUpload(_ context.Context, _, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.uploads, uploadID)

	return nil
}

// Put 直接写入对象，测试使用.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = bytes.Clone(data)
}

// Stat 读取对象信息.
func (m *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}

	return ObjectInfo{Key: key, ETag: etagOf(data), Size: int64(len(data))}, nil
}

// Open 读取对象.
func (m *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", key)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Remove 删除对象.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// Has 对象是否存在.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[key]

	return ok
}

// PendingUploads 返回未完成的分片上传数量.
func (m *MemoryStore) PendingUploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.uploads)
}

// HealthCheck 总是健康.
func (m *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// Close 无操作.
func (m *MemoryStore) Close() error {
	return nil
}
