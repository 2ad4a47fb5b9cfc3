package jobqueue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// deliveryLimitMessage 投递次数超过上限时的错误信息.
const deliveryLimitMessage = "delivery limit exceeded"

// maxLeaseRaces 单次 Lease 中因并发抢占失败而重选的次数.
const maxLeaseRaces = 8

// DBQueue 以 jobs 表为队列，租约通过条件 UPDATE 实现.
type DBQueue struct {
	db     *gorm.DB
	cfg    configs.QueueConfig
	policy Policy
	opts   options
}

// NewDBQueue 创建数据库队列.
func NewDBQueue(db *gorm.DB, cfg configs.QueueConfig, opts ...Option) *DBQueue {
	return &DBQueue{db: db, cfg: cfg, policy: NewPolicy(cfg.Retry), opts: buildOptions(opts)}
}

// Name 队列名.
func (q *DBQueue) Name() string { return TypeDB }

// Close 数据库连接由存储管理器关闭.
func (q *DBQueue) Close() error { return nil }

func (q *DBQueue) now() time.Time { return q.opts.now().UTC() }

// Enqueue 在锁住文件行的事务内检查已有任务.
func (q *DBQueue) Enqueue(ctx context.Context, tenant, fileID string) (*model.Job, bool, error) {
	var (
		job     model.Job
		created bool
	)

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fq := tx.Where("id = ? AND tenant_id = ?", fileID, tenant)
		if q.opts.rowLocking {
			fq = fq.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var f model.File
		if err := fq.Take(&f).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("file %s", fileID)
			}

			return errors.Wrap(err, "lock file")
		}

		err := tx.Where("file_id = ? AND status <> ?", fileID, model.JobStatusFailed).
			Order("created_at DESC").Take(&job).Error
		if err == nil {
			return nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "find active job")
		}

		job = q.newJob(tenant, fileID)
		created = true

		return errors.Wrap(tx.Create(&job).Error, "create job")
	})
	if err != nil {
		return nil, false, err
	}

	return &job, created, nil
}

func (q *DBQueue) newJob(tenant, fileID string) model.Job {
	now := q.now()

	return model.Job{
		ID:        model.NewID(),
		TenantID:  tenant,
		FileID:    fileID,
		Status:    model.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Submit 文件记录与 pending 任务一起提交.
func (q *DBQueue) Submit(ctx context.Context, f *model.File) (*model.Job, error) {
	if f.ClusterState == "" {
		f.ClusterState = model.ClusterStateUnassigned
	}

	job := q.newJob(f.TenantID, f.ID)

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(f).Error; err != nil {
			return errors.Wrap(err, "create file")
		}

		return errors.Wrap(tx.Create(&job).Error, "create job")
	})
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// Lease 选取最早的可租任务并以条件更新抢占.
func (q *DBQueue) Lease(ctx context.Context, workerID string, visibility time.Duration) (*Lease, error) {
	for range maxLeaseRaces {
		now := q.now()

		var job model.Job

		err := q.db.WithContext(ctx).
			Where("status = ? OR (status = ? AND lease_deadline < ?)",
				model.JobStatusPending, model.JobStatusProcessing, now.UnixMilli()).
			Order("created_at, id").
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil //nolint:nilnil // 队列为空
		}

		if err != nil {
			return nil, errors.Wrap(err, "select leasable job")
		}

		lease, err := q.leaseJob(ctx, &job, workerID, visibility)
		if err != nil {
			return nil, err
		}

		if lease != nil {
			return lease, nil
		}
	}

	return nil, nil //nolint:nilnil // 竞争激烈，下一轮再试
}

// LeaseID 租出指定任务，任务不可租时返回 nil.
func (q *DBQueue) LeaseID(ctx context.Context, jobID, workerID string, visibility time.Duration) (*Lease, error) {
	var job model.Job
	if err := q.db.WithContext(ctx).Where("id = ?", jobID).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil //nolint:nilnil // 任务已删除
		}

		return nil, errors.Wrap(err, "load job")
	}

	now := q.now()
	leasable := job.Status == model.JobStatusPending ||
		(job.Status == model.JobStatusProcessing && job.LeaseDeadline < now.UnixMilli())

	if !leasable {
		return nil, nil //nolint:nilnil // 已被其他 worker 租出或已结束
	}

	return q.leaseJob(ctx, &job, workerID, visibility)
}

// leaseJob 以读到的状态与令牌为条件抢占，抢占失败返回 nil；超过投递上限的任务直接失败.
func (q *DBQueue) leaseJob(ctx context.Context, job *model.Job, workerID string, visibility time.Duration) (*Lease, error) {
	now := q.now()
	guard := q.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND lease_token = ?", job.ID, job.Status, job.LeaseToken)

	if q.cfg.MaxDeliveries > 0 && job.Deliveries >= q.cfg.MaxDeliveries {
		dead, next := q.policy.OnFailure(job.Attempts, false, now)
		res := guard.Updates(map[string]any{
			"status":         model.JobStatusFailed,
			"error_message":  deliveryLimitMessage,
			"error_code":     errs.CodeInternal,
			"retryable":      false,
			"dead_letter":    dead,
			"next_retry_at":  next,
			"lease_owner":    "",
			"lease_token":    "",
			"lease_deadline": 0,
			"completed_at":   now,
			"updated_at":     now,
		})

		return nil, errors.Wrap(res.Error, "fail exhausted job")
	}

	token := uuid.NewString()
	deadline := now.Add(visibility)

	res := guard.Updates(map[string]any{
		"status":         model.JobStatusProcessing,
		"lease_owner":    workerID,
		"lease_token":    token,
		"lease_deadline": deadline.UnixMilli(),
		"deliveries":     gorm.Expr("deliveries + 1"),
		"updated_at":     now,
	})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "lease job")
	}

	if res.RowsAffected == 0 {
		return nil, nil //nolint:nilnil // 被其他 worker 抢先
	}

	job.Status = model.JobStatusProcessing
	job.LeaseOwner = workerID
	job.LeaseToken = token
	job.LeaseDeadline = deadline.UnixMilli()
	job.Deliveries++
	job.UpdatedAt = now

	return &Lease{Job: job, WorkerID: workerID, Token: token, Deadline: deadline}, nil
}

func (q *DBQueue) leaseGuard(ctx context.Context, lease *Lease) *gorm.DB {
	return q.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND lease_token = ?", lease.Job.ID, model.JobStatusProcessing, lease.Token)
}

// Extend 延长租约截止时间.
func (q *DBQueue) Extend(ctx context.Context, lease *Lease, visibility time.Duration) error {
	deadline := q.now().Add(visibility)

	res := q.leaseGuard(ctx, lease).Updates(map[string]any{"lease_deadline": deadline.UnixMilli()})
	if res.Error != nil {
		return errors.Wrap(res.Error, "extend lease")
	}

	if res.RowsAffected == 0 {
		return errs.LeaseLost("job %s lease no longer held by %s", lease.Job.ID, lease.WorkerID)
	}

	lease.Deadline = deadline
	lease.Job.LeaseDeadline = deadline.UnixMilli()

	return nil
}

// Ack 写入终态与结果.
func (q *DBQueue) Ack(ctx context.Context, lease *Lease, res AckResult) (*model.Job, error) {
	if !res.Status.Terminal() {
		return nil, errs.Validation("ack requires a terminal status, got %q", res.Status)
	}

	now := q.now()
	updates := map[string]any{
		"status":         res.Status,
		"outcome":        res.Outcome,
		"lease_owner":    "",
		"lease_token":    "",
		"lease_deadline": 0,
		"completed_at":   now,
		"updated_at":     now,
	}

	if res.Status == model.JobStatusFailed {
		dead, next := q.policy.OnFailure(lease.Job.Attempts, res.Retryable, now)
		updates["error_message"] = res.ErrorMessage
		updates["error_code"] = res.ErrorCode
		updates["retryable"] = res.Retryable
		updates["dead_letter"] = dead
		updates["next_retry_at"] = next
	} else {
		updates["error_message"] = nil
		updates["error_code"] = ""
		updates["duplicate_of_file_id"] = nullable(res.DuplicateOfFileID)
		updates["cluster_id"] = nullable(res.ClusterID)
		updates["similarity_score"] = res.SimilarityScore
		updates["cluster_score"] = res.ClusterScore
	}

	r := q.leaseGuard(ctx, lease).Updates(updates)
	if r.Error != nil {
		return nil, errors.Wrap(r.Error, "ack job")
	}

	if r.RowsAffected == 0 {
		return nil, errs.LeaseLost("job %s lease no longer held by %s", lease.Job.ID, lease.WorkerID)
	}

	return q.Get(ctx, "", lease.Job.ID)
}

// Retry 手动重试失败任务，死信任务也可重试.
func (q *DBQueue) Retry(ctx context.Context, tenant, jobID string) (*model.Job, error) {
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := scoped(tx, tenant).Where("id = ?", jobID).Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("job %s", jobID)
			}

			return errors.Wrap(err, "load job")
		}

		if job.Status != model.JobStatusFailed {
			return errs.Conflict("job %s is %s, only failed jobs can be retried", jobID, job.Status)
		}

		var active int64
		if err := tx.Model(&model.Job{}).
			Where("file_id = ? AND id <> ? AND status <> ?", job.FileID, job.ID, model.JobStatusFailed).
			Count(&active).Error; err != nil {
			return errors.Wrap(err, "count active jobs")
		}

		if active > 0 {
			return errs.Conflict("file %s already has an active job", job.FileID)
		}

		return q.reset(tx, job.ID, q.now())
	})
	if err != nil {
		return nil, err
	}

	return q.Get(ctx, tenant, jobID)
}

// reset failed → pending.
func (q *DBQueue) reset(tx *gorm.DB, jobID string, now time.Time) error {
	res := tx.Model(&model.Job{}).
		Where("id = ? AND status = ?", jobID, model.JobStatusFailed).
		Updates(map[string]any{
			"status":        model.JobStatusPending,
			"attempts":      gorm.Expr("attempts + 1"),
			"deliveries":    0,
			"dead_letter":   false,
			"next_retry_at": nil,
			"error_message": nil,
			"error_code":    "",
			"retryable":     false,
			"completed_at":  nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "reset job")
	}

	if res.RowsAffected == 0 {
		return errs.Conflict("job %s is no longer failed", jobID)
	}

	return nil
}

// RetryDue 重置到期的可重试失败任务，跳过已有活跃任务的文件.
func (q *DBQueue) RetryDue(ctx context.Context, limit int) ([]model.Job, error) {
	if !q.policy.Auto() {
		return nil, nil
	}

	if limit <= 0 {
		limit = MaxListLimit
	}

	now := q.now()

	var due []model.Job
	if err := q.db.WithContext(ctx).
		Where("status = ? AND dead_letter = ? AND retryable = ? AND next_retry_at <= ?",
			model.JobStatusFailed, false, true, now).
		Order("next_retry_at").Limit(limit).Find(&due).Error; err != nil {
		return nil, errors.Wrap(err, "find due jobs")
	}

	out := make([]model.Job, 0, len(due))

	for _, job := range due {
		err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var active int64
			if err := tx.Model(&model.Job{}).
				Where("file_id = ? AND id <> ? AND status <> ?", job.FileID, job.ID, model.JobStatusFailed).
				Count(&active).Error; err != nil {
				return errors.Wrap(err, "count active jobs")
			}

			if active > 0 {
				// 已被新任务取代，不再自动重试
				return tx.Model(&model.Job{}).Where("id = ?", job.ID).Update("next_retry_at", nil).Error
			}

			return q.reset(tx, job.ID, now)
		})
		if errors.Is(err, errs.ErrConflict) {
			continue
		}

		if err != nil {
			return out, err
		}

		if j, err := q.Get(ctx, "", job.ID); err == nil && j.Status == model.JobStatusPending {
			out = append(out, *j)
		}
	}

	return out, nil
}

// Get 读取任务，tenant 为空时不校验租户.
func (q *DBQueue) Get(ctx context.Context, tenant, jobID string) (*model.Job, error) {
	var job model.Job
	if err := scoped(q.db.WithContext(ctx), tenant).Where("id = ?", jobID).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("job %s", jobID)
		}

		return nil, errors.Wrap(err, "get job")
	}

	return &job, nil
}

// List 按创建时间倒序分页.
func (q *DBQueue) List(ctx context.Context, f ListFilter) ([]model.Job, int64, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, errs.Validation("unknown job status %q", f.Status)
	}

	if f.Offset < 0 {
		return nil, 0, errs.Validation("offset must not be negative")
	}

	base := scoped(q.db.WithContext(ctx).Model(&model.Job{}), f.TenantID)
	if f.Status != "" {
		base = base.Where("status = ?", f.Status)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count jobs")
	}

	var jobs []model.Job
	if err := base.Session(&gorm.Session{}).Order("created_at DESC, id").
		Limit(clampLimit(f.Limit)).Offset(f.Offset).Find(&jobs).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list jobs")
	}

	return jobs, total, nil
}

// Delete 删除任务.
func (q *DBQueue) Delete(ctx context.Context, tenant, jobID string) error {
	res := scoped(q.db.WithContext(ctx), tenant).
		Where("id = ? AND status <> ?", jobID, model.JobStatusProcessing).
		Delete(&model.Job{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete job")
	}

	if res.RowsAffected > 0 {
		return nil
	}

	if _, err := q.Get(ctx, tenant, jobID); err != nil {
		return err
	}

	return errs.Conflict("job %s is processing", jobID)
}

// Counts 各状态任务数，缺失的状态为 0.
func (q *DBQueue) Counts(ctx context.Context) (map[model.JobStatus]int64, error) {
	var rows []struct {
		Status model.JobStatus
		N      int64
	}

	if err := q.db.WithContext(ctx).Model(&model.Job{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "count jobs by status")
	}

	out := map[model.JobStatus]int64{
		model.JobStatusPending:    0,
		model.JobStatusProcessing: 0,
		model.JobStatusCompleted:  0,
		model.JobStatusFailed:     0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}

	return out, nil
}

func scoped(db *gorm.DB, tenant string) *gorm.DB {
	if tenant == "" {
		return db
	}

	return db.Where("tenant_id = ?", tenant)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
