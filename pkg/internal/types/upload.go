package types

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"

	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// InitiateUploadRequest 开始分片上传.
type InitiateUploadRequest struct {
	FileName    string `json:"filename"               rule:"required,filename"`
	ContentType string `json:"content_type,omitempty" rule:"omitempty,max=255"`
}

// InitiateUploadResponse 分片上传会话.
type InitiateUploadResponse struct {
	UploadID  string    `json:"upload_id"`
	ObjectKey string    `json:"object_key"`
	ChunkSize int64     `json:"chunk_size"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresignPartRequest 为单个分片申请上传地址.
type PresignPartRequest struct {
	FileName   string `json:"filename"    rule:"required,filename"`
	UploadID   string `json:"upload_id"   rule:"required"`
	PartNumber int    `json:"part_number" rule:"min=1,max=10000"`
	// ExpiresInSecs 为 0 时使用默认有效期
	ExpiresInSecs int64 `json:"expires_in_secs" rule:"min=0,max=604800"`
}

// PresignPartResponse 分片上传地址，PUT 响应头中的 ETag 需要在 complete 时回传.
type PresignPartResponse struct {
	PresignedURL string    `json:"presigned_url"`
	PartNumber   int       `json:"part_number"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CompletedPart 客户端回传的分片，JSON 形式为 [part_number, etag]，也接受对象形式.
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// UnmarshalJSON 支持 [1, "etag"] 与 {"part_number":1,"etag":"..."} 两种写法.
func (p *CompletedPart) UnmarshalJSON(data []byte) error {
	var pair []any
	if err := sonic.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return errors.Newf("part must be [part_number, etag], got %d elements", len(pair))
		}

		n, ok := pair[0].(float64)
		if !ok || n != float64(int(n)) {
			return errors.New("part_number must be an integer")
		}

		tag, ok := pair[1].(string)
		if !ok {
			return errors.New("etag must be a string")
		}

		p.PartNumber, p.ETag = int(n), tag

		return nil
	}

	type plain CompletedPart

	var obj plain
	if err := sonic.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "decode part")
	}

	*p = CompletedPart(obj)

	return nil
}

// MarshalJSON 输出 [part_number, etag].
func (p CompletedPart) MarshalJSON() ([]byte, error) {
	return sonic.Marshal([]any{p.PartNumber, p.ETag})
}

// CompleteUploadRequest 完成分片上传.
type CompleteUploadRequest struct {
	FileName string          `json:"filename"  rule:"required,filename"`
	UploadID string          `json:"upload_id" rule:"required"`
	Parts    []CompletedPart `json:"parts"`
}

// CompleteUploadResponse 完成后创建的文件与任务.
type CompleteUploadResponse struct {
	FileID    string `json:"file_id"`
	JobID     string `json:"job_id"`
	ObjectKey string `json:"object_key"`
	Size      int64  `json:"size"`
}

// UploadSession 保存在 KV 中的上传会话.
type UploadSession struct {
	UploadID    string         `json:"upload_id"`
	TenantID    string         `json:"tenant_id"`
	FileName    string         `json:"filename"`
	ContentType string         `json:"content_type,omitempty"`
	Category    model.Category `json:"category"`
	ObjectKey   string         `json:"object_key"`
	S3UploadID  string         `json:"s3_upload_id"`
	// FileID 合并对象之前写入，重复的 complete 据此找回已创建的文件
	FileID      string         `json:"file_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Expired 会话是否已过期.
func (s *UploadSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AuthorizedPart 已签发上传地址的分片.
type AuthorizedPart struct {
	PartNumber   int       `json:"part_number"`
	AuthorizedAt time.Time `json:"authorized_at"`
}
