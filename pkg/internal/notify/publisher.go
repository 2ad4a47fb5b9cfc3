// Package notify 发布任务事件并通过 websocket 推送给订阅的客户端.
package notify

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	nlog "github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/queue"
)

// Publisher 把任务状态变化发布到 dv.job.events，nil Publisher 不做任何事.
type Publisher struct {
	pub      message.Publisher
	cfg      configs.EventsConfig
	producer string
}

// NewPublisher 创建事件发布器.
func NewPublisher(pub message.Publisher, cfg configs.EventsConfig, producer string) *Publisher {
	return &Publisher{pub: pub, cfg: cfg, producer: producer}
}

// JobEvent 由任务记录构造事件负载.
func JobEvent(job *model.Job) queue.JobEventPayload {
	p := queue.JobEventPayload{
		Type:       queue.JobStatusUpdate,
		JobID:      job.ID,
		FileID:     job.FileID,
		TenantID:   job.TenantID,
		Status:     string(job.Status),
		OccurredAt: job.UpdatedAt.UTC(),
	}

	switch job.Status {
	case model.JobStatusCompleted:
		p.Type = queue.JobCompleted
		p.Outcome = string(job.Outcome)
		p.Similarity = job.SimilarityScore

		if job.ClusterID != nil {
			p.ClusterID = *job.ClusterID
		}

		if job.DuplicateOfFileID != nil {
			p.DuplicateOf = *job.DuplicateOfFileID
		}
	case model.JobStatusFailed:
		p.Type = queue.JobFailed
		if job.ErrorMessage != nil {
			p.Error = *job.ErrorMessage
		}
	}

	return p
}

func (p *Publisher) wants(t queue.JobEventType) bool {
	if !p.cfg.Enabled {
		return false
	}

	switch t {
	case queue.JobCompleted:
		return p.cfg.Job.Completed
	case queue.JobFailed:
		return p.cfg.Job.Failed
	default:
		return p.cfg.Job.StatusUpdate
	}
}

// JobChanged 发布任务当前状态，发布失败只记录日志.
func (p *Publisher) JobChanged(ctx context.Context, job *model.Job) {
	if p == nil || p.pub == nil || job == nil {
		return
	}

	payload := JobEvent(job)
	if !p.wants(payload.Type) {
		return
	}

	if err := queue.PublishJobEvent(p.pub, payload, p.header(ctx)...); err != nil {
		nlog.Component("notify").Warn().Err(err).Str("job_id", job.ID).Str("status", payload.Status).
			Msg("failed to publish job event")
	}
}

// FileDeleted 发布文件删除事件.
func (p *Publisher) FileDeleted(ctx context.Context, payload queue.FileDeletedPayload) {
	if p == nil || p.pub == nil || !p.cfg.Enabled {
		return
	}

	if err := queue.PublishFileDeleted(p.pub, payload, p.header(ctx)...); err != nil {
		nlog.Component("notify").Warn().Err(err).Str("file_id", payload.FileID).Msg("failed to publish file deleted event")
	}
}

func (p *Publisher) header(ctx context.Context) []queue.Option {
	return []queue.Option{queue.WithProducer(p.producer), queue.WithSpan(ctx)}
}
