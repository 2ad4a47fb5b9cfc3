package queue

import (
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// EventHeader 定义所有事件的通用头部元数据.
type EventHeader struct {
	// Topic 冗余记录消息主题，便于离线处理或转储后定位来源主题.
	Topic string `json:"topic"`
	// TraceID 分布式追踪/关联 ID.
	TraceID string `json:"trace_id,omitempty"`
	// Producer 生产者服务名或节点标识.
	Producer string `json:"producer,omitempty"`
	// OccurredAt 事件发生时间（UTC）.
	OccurredAt time.Time `json:"occurred_at"`
	// Version 事件负载版本.
	Version string `json:"version,omitempty"`

	// carrier 传播头，只写入 watermill 元数据.
	carrier propagation.MapCarrier
}

// Message 是统一的消息封装，Header + Payload.
type Message[T any] struct {
	Header  EventHeader `json:"header"`
	Payload T           `json:"payload"`
}

// JobEventType 推送事件类型.
type JobEventType string

const (
	JobStatusUpdate JobEventType = "job_status_update"
	JobCompleted    JobEventType = "job_completed"
	JobFailed       JobEventType = "job_failed"
)

// JobEventPayload 任务状态变化.
type JobEventPayload struct {
	Type     JobEventType `json:"type"`
	JobID    string       `json:"job_id"`
	FileID   string       `json:"file_id"`
	TenantID string       `json:"tenant_id"`
	Status   string       `json:"status"`
	Error    string       `json:"error,omitempty"`

	// 以下仅在 job_completed 时填充
	Outcome     string   `json:"outcome,omitempty"`
	ClusterID   string   `json:"cluster_id,omitempty"`
	DuplicateOf string   `json:"duplicate_of,omitempty"`
	Similarity  *float64 `json:"similarity_score,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// FileDeletedPayload 文件删除.
type FileDeletedPayload struct {
	FileID    string `json:"file_id"`
	TenantID  string `json:"tenant_id"`
	ObjectKey string `json:"object_key"`
	ClusterID string `json:"cluster_id,omitempty"`
}
