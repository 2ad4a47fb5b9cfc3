// Package jobqueue 是去重任务的队列，任务表同时作为状态记录.
//
// 租约语义：Lease 把任务置为 processing 并写入新的租约令牌与截止时间，
// 截止时间之前其他 worker 看不到它；worker 未在截止前 Ack 时任务重新可租.
// Ack 与 Extend 必须携带当前令牌，超时后迟到的 Ack 返回 ErrLeaseLost，
// 不会覆盖后一个 worker 的结果.
package jobqueue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// 队列类型.
const (
	TypeDB    = "db"
	TypeRedis = "redis"
)

// 列表分页.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Lease 一次租约.
type Lease struct {
	Job      *model.Job
	WorkerID string
	Token    string
	Deadline time.Time
}

// AckResult 任务终态与结果.
type AckResult struct {
	Status       model.JobStatus
	ErrorMessage string
	ErrorCode    string
	Retryable    bool

	Outcome           model.Outcome
	DuplicateOfFileID string
	ClusterID         string
	SimilarityScore   *float64
	ClusterScore      *float64
}

// ListFilter 列表过滤条件.
type ListFilter struct {
	TenantID string
	Status   model.JobStatus
	Limit    int
	Offset   int
}

// Queue 任务队列.
type Queue interface {
	Name() string
	// Enqueue 为文件创建任务；文件已有未失败的任务时返回该任务，created 为 false
	Enqueue(ctx context.Context, tenant, fileID string) (job *model.Job, created bool, err error)
	// Submit 在同一事务内创建文件与它的任务，任一失败时都不落库
	Submit(ctx context.Context, f *model.File) (*model.Job, error)
	// Lease 租出一个任务，没有可租任务时返回 nil
	Lease(ctx context.Context, workerID string, visibility time.Duration) (*Lease, error)
	// Extend 延长租约
	Extend(ctx context.Context, lease *Lease, visibility time.Duration) error
	// Ack 以终态结束租约
	Ack(ctx context.Context, lease *Lease, res AckResult) (*model.Job, error)
	// Retry 把失败任务重新置为 pending
	Retry(ctx context.Context, tenant, jobID string) (*model.Job, error)
	// RetryDue 自动重试到期的失败任务
	RetryDue(ctx context.Context, limit int) ([]model.Job, error)
	Get(ctx context.Context, tenant, jobID string) (*model.Job, error)
	List(ctx context.Context, f ListFilter) ([]model.Job, int64, error)
	// Delete 删除非 processing 状态的任务
	Delete(ctx context.Context, tenant, jobID string) error
	Counts(ctx context.Context) (map[model.JobStatus]int64, error)
	Close() error
}

// Option 队列可选项.
type Option func(*options)

type options struct {
	now        func() time.Time
	rowLocking bool
}

// WithClock 替换时钟，用于测试可见性超时.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRowLocking 入队时对文件行加 FOR UPDATE 锁.
func WithRowLocking(enabled bool) Option {
	return func(o *options) { o.rowLocking = enabled }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// New 按配置创建队列.
func New(ctx context.Context, cfg configs.QueueConfig, db *gorm.DB, opts ...Option) (Queue, error) {
	dbq := NewDBQueue(db, cfg, opts...)

	switch cfg.Type {
	case TypeDB, "":
		return dbq, nil
	case TypeRedis:
		return NewRedisQueue(ctx, dbq, cfg.Redis)
	default:
		return nil, errors.Newf("unsupported queue type: %s", cfg.Type)
	}
}

// Policy 失败任务的重试决策.
type Policy struct {
	cfg configs.RetryConfig
}

// NewPolicy 创建重试策略.
func NewPolicy(cfg configs.RetryConfig) Policy {
	return Policy{cfg: cfg}
}

// OnFailure 计算失败后的死信标记与下次自动重试时间；attempts 为已执行的重试次数.
func (p Policy) OnFailure(attempts int, retryable bool, now time.Time) (deadLetter bool, next *time.Time) {
	if attempts >= p.cfg.MaxAttempts {
		return true, nil
	}

	if p.cfg.Mode != configs.RetryModeAuto || !retryable {
		return false, nil
	}

	t := now.Add(p.cfg.Backoff(attempts + 1))

	return false, &t
}

// Auto 是否自动重试.
func (p Policy) Auto() bool {
	return p.cfg.Mode == configs.RetryModeAuto
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
