// Package jobs 负责注册与实现业务定时任务（基于 scheduler）.
package jobs

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/yeisme/dedupvault/pkg/internal/jobqueue"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/metrics"
	"github.com/yeisme/dedupvault/pkg/scheduler"
)

// SessionCleaner 清理过期上传会话，service.UploadService 满足该接口.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Notifier 任务状态变更通知.
type Notifier interface {
	JobChanged(ctx context.Context, job *model.Job)
}

// QueueSyncer 能从任务表重建投递状态的队列，jobqueue.RedisQueue 满足该接口.
type QueueSyncer interface {
	Sync(ctx context.Context) error
}

// Deps 定时任务依赖，Notifier 可以为 nil.
type Deps struct {
	Uploads  SessionCleaner
	Queue    jobqueue.Queue
	Notifier Notifier
}

// RegisterCronJobs 配置业务定时任务：
//   - 每 5 分钟清理过期上传会话并放弃对应的分片上传
//   - 每分钟自动重试到期的失败任务
//   - 每分钟刷新各状态的任务数量指标
//   - 队列支持时，每 2 分钟把任务表中可租的任务补回投递集合
func RegisterCronJobs(ctx context.Context, sched *scheduler.Scheduler, deps Deps) error {
	if sched == nil {
		return fmt.Errorf("scheduler is nil")
	}

	if deps.Uploads == nil || deps.Queue == nil {
		return fmt.Errorf("cron dependencies are not initialized")
	}

	type cronJob struct {
		name, cron string
		task       scheduler.Task
	}

	list := []cronJob{
		{JobUploadSessionsCleanup, CronUploadSessionsCleanup, func(ctx context.Context) error {
			return CleanupSessions(ctx, deps.Uploads)
		}},
		{JobRetryFailed, CronRetryFailed, func(ctx context.Context) error {
			return RetryFailed(ctx, deps.Queue, deps.Notifier)
		}},
		{JobQueueGauge, CronQueueGauge, func(ctx context.Context) error {
			return RecordQueueDepth(ctx, deps.Queue)
		}},
	}

	if syncer, ok := deps.Queue.(QueueSyncer); ok {
		list = append(list, cronJob{JobQueueSync, CronQueueSync, func(ctx context.Context) error {
			return errors.Wrap(syncer.Sync(ctx), "sync queue")
		}})
	}

	for _, j := range list {
		if err := sched.AddCron(ctx, j.name, j.cron, j.task); err != nil {
			return err
		}
	}

	return nil
}

// CleanupSessions 清理过期上传会话.
func CleanupSessions(ctx context.Context, uploads SessionCleaner) error {
	n, err := uploads.CleanupExpired(ctx)
	if err != nil {
		return errors.Wrap(err, "cleanup upload sessions")
	}

	if n > 0 {
		log.Component("cron").Info().Str("job", JobUploadSessionsCleanup).Int("affected", n).Msg("expired upload sessions cleaned")
	}

	return nil
}

// RetryFailed 按退避策略把到期的失败任务重新置为 pending，手动模式下不做任何事.
func RetryFailed(ctx context.Context, q jobqueue.Queue, notifier Notifier) error {
	jobs, err := q.RetryDue(ctx, retryBatch)
	if err != nil {
		return errors.Wrap(err, "retry due jobs")
	}

	for i := range jobs {
		job := &jobs[i]

		if notifier != nil {
			notifier.JobChanged(ctx, job)
		}

		log.WithJob(job.ID, job.FileID, job.TenantID).Info().Str("job", JobRetryFailed).
			Int("attempts", job.Attempts).Msg("failed job requeued")
	}

	return nil
}

// RecordQueueDepth 刷新各状态任务数量.
func RecordQueueDepth(ctx context.Context, q jobqueue.Queue) error {
	counts, err := q.Counts(ctx)
	if err != nil {
		return errors.Wrap(err, "count jobs")
	}

	for _, status := range []model.JobStatus{
		model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCompleted, model.JobStatusFailed,
	} {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	return nil
}
