package jobqueue

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/storage/rdb"
	nlog "github.com/yeisme/dedupvault/pkg/log"
)

// popScript 先把超时的在途任务放回待处理集合，再弹出最早的一个放入在途集合.
// 截止时间等于 now 的租约仍然有效，与数据库的 lease_deadline < now 一致.
// KEYS[1]=pending KEYS[2]=inflight ARGV[1]=now(ms) ARGV[2]=deadline(ms).
var popScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
  return false
end
redis.call('ZREM', KEYS[1], head[1])
redis.call('ZADD', KEYS[2], ARGV[2], head[1])
return head[1]
`)

// RedisQueue 任务状态仍在数据库，租约的排队与超时回收由 Redis 有序集合承担.
type RedisQueue struct {
	*DBQueue

	rdb      *redis.Client
	pending  string
	inflight string
}

// NewRedisQueue 创建 Redis 队列并把数据库中的待处理任务同步进来.
func NewRedisQueue(ctx context.Context, dbq *DBQueue, cfg configs.RedisConfig) (*RedisQueue, error) {
	client, err := rdb.New(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "queue")
	}

	return NewRedisQueueWithClient(ctx, dbq, client, cfg.KeyPrefix)
}

// NewRedisQueueWithClient 使用已有客户端.
func NewRedisQueueWithClient(ctx context.Context, dbq *DBQueue, rdb *redis.Client, prefix string) (*RedisQueue, error) {
	q := &RedisQueue{
		DBQueue:  dbq,
		rdb:      rdb,
		pending:  prefix + ":pending",
		inflight: prefix + ":inflight",
	}

	if err := q.Sync(ctx); err != nil {
		return nil, err
	}

	return q, nil
}

// Name 队列名.
func (q *RedisQueue) Name() string { return TypeRedis }

// Close 关闭 Redis 连接.
func (q *RedisQueue) Close() error { return q.rdb.Close() }

func (q *RedisQueue) push(ctx context.Context, job *model.Job) error {
	err := q.rdb.ZAddNX(ctx, q.pending, redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID}).Err()

	return errors.Wrap(err, "push job")
}

// Sync 把数据库中 pending 与租约过期的任务补进待处理集合.
func (q *RedisQueue) Sync(ctx context.Context) error {
	now := q.now()

	var jobs []model.Job
	if err := q.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND lease_deadline < ?)",
			model.JobStatusPending, model.JobStatusProcessing, now.UnixMilli()).
		Find(&jobs).Error; err != nil {
		return errors.Wrap(err, "load pending jobs")
	}

	for i := range jobs {
		if err := q.push(ctx, &jobs[i]); err != nil {
			return err
		}
	}

	return nil
}

// Enqueue 写入数据库后推入待处理集合.
func (q *RedisQueue) Enqueue(ctx context.Context, tenant, fileID string) (*model.Job, bool, error) {
	job, created, err := q.DBQueue.Enqueue(ctx, tenant, fileID)
	if err != nil || !created {
		return job, created, err
	}

	return job, created, q.push(ctx, job)
}

// Submit 提交后推入待处理集合；推入失败时任务仍是 pending，由 Sync 补回.
func (q *RedisQueue) Submit(ctx context.Context, f *model.File) (*model.Job, error) {
	job, err := q.DBQueue.Submit(ctx, f)
	if err != nil {
		return nil, err
	}

	if err := q.push(ctx, job); err != nil {
		nlog.Logger().Warn().Err(err).Str("job_id", job.ID).Msg("push submitted job failed, left for sync")
	}

	return job, nil
}

// Lease 从 Redis 弹出任务 ID，再在数据库上抢占.
func (q *RedisQueue) Lease(ctx context.Context, workerID string, visibility time.Duration) (*Lease, error) {
	for range maxLeaseRaces {
		now := q.now()
		deadline := now.Add(visibility)

		id, err := popScript.Run(ctx, q.rdb, []string{q.pending, q.inflight},
			strconv.FormatInt(now.UnixMilli(), 10), strconv.FormatInt(deadline.UnixMilli(), 10)).Text()
		if errors.Is(err, redis.Nil) {
			return nil, nil //nolint:nilnil // 队列为空
		}

		if err != nil {
			return nil, errors.Wrap(err, "pop job")
		}

		lease, err := q.LeaseID(ctx, id, workerID, visibility)
		if err != nil {
			return nil, err
		}

		if lease != nil {
			return lease, nil
		}

		if err := q.settle(ctx, id); err != nil {
			nlog.Logger().Warn().Err(err).Str("job_id", id).Msg("failed to settle stale queue entry")
		}
	}

	return nil, nil //nolint:nilnil // 本轮没有可租任务
}

// settle 处理弹出后没能租到的任务：仍被其他 worker 持有时按数据库的截止时间放回在途集合，
// 已结束或已删除时从集合中移除.
func (q *RedisQueue) settle(ctx context.Context, id string) error {
	var job model.Job

	err := q.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(err, "load job")
	}

	if err == nil && job.Status == model.JobStatusProcessing {
		err = q.rdb.ZAdd(ctx, q.inflight, redis.Z{Score: float64(job.LeaseDeadline), Member: id}).Err()
		return errors.Wrap(err, "restore inflight")
	}

	return errors.Wrap(q.rdb.ZRem(ctx, q.inflight, id).Err(), "drop inflight")
}

// Extend 同时延长数据库与在途集合中的截止时间，在途条目丢失时补回.
func (q *RedisQueue) Extend(ctx context.Context, lease *Lease, visibility time.Duration) error {
	if err := q.DBQueue.Extend(ctx, lease, visibility); err != nil {
		return err
	}

	err := q.rdb.ZAdd(ctx, q.inflight, redis.Z{Score: float64(lease.Deadline.UnixMilli()), Member: lease.Job.ID}).Err()

	return errors.Wrap(err, "extend inflight")
}

// Ack 写入终态并移出在途集合.
func (q *RedisQueue) Ack(ctx context.Context, lease *Lease, res AckResult) (*model.Job, error) {
	job, err := q.DBQueue.Ack(ctx, lease, res)
	if err != nil {
		return nil, err
	}

	if err := q.rdb.ZRem(ctx, q.inflight, lease.Job.ID).Err(); err != nil {
		nlog.Logger().Warn().Err(err).Str("job_id", lease.Job.ID).Msg("failed to remove inflight entry")
	}

	return job, nil
}

// Retry 重置后重新入队.
func (q *RedisQueue) Retry(ctx context.Context, tenant, jobID string) (*model.Job, error) {
	job, err := q.DBQueue.Retry(ctx, tenant, jobID)
	if err != nil {
		return nil, err
	}

	return job, q.push(ctx, job)
}

// RetryDue 重置到期任务后重新入队.
func (q *RedisQueue) RetryDue(ctx context.Context, limit int) ([]model.Job, error) {
	jobs, err := q.DBQueue.RetryDue(ctx, limit)
	if err != nil {
		return jobs, err
	}

	for i := range jobs {
		if err := q.push(ctx, &jobs[i]); err != nil {
			return jobs, err
		}
	}

	return jobs, nil
}

// Delete 删除任务并清理集合.
func (q *RedisQueue) Delete(ctx context.Context, tenant, jobID string) error {
	if err := q.DBQueue.Delete(ctx, tenant, jobID); err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.pending, jobID)
	pipe.ZRem(ctx, q.inflight, jobID)
	_, err := pipe.Exec(ctx)

	return errors.Wrap(err, "drop queue entries")
}
