package types

import (
	"time"

	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// JobResult 已完成任务的去重结果.
type JobResult struct {
	Outcome         model.Outcome `json:"outcome"`
	DuplicateOf     *string       `json:"duplicate_of,omitempty"`
	ClusterID       *string       `json:"cluster_id,omitempty"`
	SimilarityScore *float64      `json:"similarity_score,omitempty"`
	ClusterScore    *float64      `json:"cluster_score,omitempty"`
}

// JobResponse 任务状态.
type JobResponse struct {
	JobID        string          `json:"job_id"`
	FileID       string          `json:"file_id"`
	Status       model.JobStatus `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	Attempts     int             `json:"attempts"`
	DeadLetter   bool            `json:"dead_letter,omitempty"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Result       *JobResult      `json:"result,omitempty"`
}

// NewJobResponse 由任务记录构造响应.
func NewJobResponse(j *model.Job) JobResponse {
	r := JobResponse{
		JobID:        j.ID,
		FileID:       j.FileID,
		Status:       j.Status,
		ErrorMessage: j.ErrorMessage,
		ErrorCode:    j.ErrorCode,
		Retryable:    j.Retryable,
		Attempts:     j.Attempts,
		DeadLetter:   j.DeadLetter,
		NextRetryAt:  j.NextRetryAt,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		CompletedAt:  j.CompletedAt,
	}

	if j.Status == model.JobStatusCompleted {
		r.Result = &JobResult{
			Outcome:         j.Outcome,
			DuplicateOf:     j.DuplicateOfFileID,
			ClusterID:       j.ClusterID,
			SimilarityScore: j.SimilarityScore,
			ClusterScore:    j.ClusterScore,
		}
	}

	return r
}

// ListJobsQuery 任务列表查询参数.
type ListJobsQuery struct {
	Status string `form:"status" rule:"omitempty,oneof=pending processing completed failed"`
	Limit  int    `form:"limit"  rule:"min=0"`
	Offset int    `form:"offset" rule:"min=0"`
}

// ListJobsResponse 任务列表.
type ListJobsResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}
