package model

import "time"

// JobStatus 任务状态，只能前进，唯一例外是显式重试 failed -> pending.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid 是否是已知状态.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}

	return false
}

// Terminal 是否是终态.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Outcome 去重结果.
type Outcome string

const (
	OutcomeExactDuplicate Outcome = "exact_duplicate"
	OutcomeJoinedCluster  Outcome = "joined_cluster"
	OutcomeNewCluster     Outcome = "new_cluster"
)

// Job 任务状态记录，同时也是数据库队列本身.
type Job struct {
	ID           string    `gorm:"primaryKey;size:36"         json:"job_id"`
	TenantID     string    `gorm:"size:255;not null;index"    json:"tenant_id"`
	FileID       string    `gorm:"size:36;not null;index"     json:"file_id"`
	Status       JobStatus `gorm:"size:16;not null;index;index:idx_jobs_status_created,priority:1" json:"status"`
	ErrorMessage *string   `gorm:"type:text"                  json:"error_message,omitempty"`
	ErrorCode    string    `gorm:"size:64"                    json:"error_code,omitempty"`
	Retryable    bool      `json:"retryable"`

	Outcome           Outcome  `gorm:"size:32"  json:"outcome,omitempty"`
	DuplicateOfFileID *string  `gorm:"size:36"  json:"duplicate_of,omitempty"`
	ClusterID         *string  `gorm:"size:36"  json:"cluster_id,omitempty"`
	SimilarityScore   *float64 `json:"similarity_score,omitempty"`
	ClusterScore      *float64 `json:"cluster_score,omitempty"`

	// Attempts 重试次数（failed -> pending 的次数）
	Attempts int `gorm:"not null;default:0" json:"attempts"`
	// Deliveries 被租用的总次数，超过上限视为反复崩溃
	Deliveries  int        `gorm:"not null;default:0" json:"deliveries"`
	DeadLetter  bool       `gorm:"not null;default:false;index" json:"dead_letter"`
	NextRetryAt *time.Time `gorm:"index"              json:"next_retry_at,omitempty"`

	LeaseOwner    string `gorm:"size:128" json:"-"`
	LeaseToken    string `gorm:"size:64"  json:"-"`
	LeaseDeadline int64  `gorm:"not null;default:0;index" json:"-"` // unix 毫秒

	CreatedAt   time.Time  `gorm:"index;index:idx_jobs_status_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
