package jobs

// 任务名称常量，便于统一管理与引用.
const (
	JobUploadSessionsCleanup = "upload.sessions.cleanup"
	JobRetryFailed           = "jobs.retry.failed"
	JobQueueGauge            = "jobs.queue.gauge"
	JobQueueSync             = "jobs.queue.sync"
)

// Cron 表达式常量.
const (
	CronUploadSessionsCleanup = "*/5 * * * *"
	CronRetryFailed           = "* * * * *"
	CronQueueGauge            = "* * * * *"
	CronQueueSync             = "*/2 * * * *"
)

// retryBatch 每轮自动重试的最大任务数.
const retryBatch = 100
