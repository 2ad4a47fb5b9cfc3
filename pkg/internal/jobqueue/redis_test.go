package jobqueue_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/jobqueue"
	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// Optional: enable with ENABLE_REDIS_TEST=1 and REDIS_ADDR set (default 127.0.0.1:6379).
func newRedisQueue(t *testing.T, fx *fixture) (*jobqueue.RedisQueue, *redis.Client, string) {
	t.Helper()

	if os.Getenv("ENABLE_REDIS_TEST") == "" {
		t.Skip("set ENABLE_REDIS_TEST=1 to enable")
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	prefix := "dedupvault:test:" + model.NewID()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), prefix+":pending", prefix+":inflight").Err()
	})

	q, err := jobqueue.NewRedisQueueWithClient(context.Background(), fx.q, rdb, prefix)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	return q, rdb, prefix
}

func TestRedisQueueVisibilityTimeout(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	q, rdb, prefix := newRedisQueue(t, fx)

	job, created, err := q.Enqueue(ctx, "t1", fx.file(t, "t1"))
	require.NoError(t, err)
	assert.True(t, created)

	first, err := q.Lease(ctx, "w1", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, job.ID, first.Job.ID)

	none, err := q.Lease(ctx, "w2", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, none)

	fx.clock.Advance(31 * time.Second)

	second, err := q.Lease(ctx, "w2", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, job.ID, second.Job.ID)

	_, err = q.Ack(ctx, first, jobqueue.AckResult{Status: model.JobStatusCompleted})
	assert.True(t, errors.Is(err, errs.ErrLeaseLost))

	done, err := q.Ack(ctx, second, jobqueue.AckResult{Status: model.JobStatusCompleted, Outcome: model.OutcomeNewCluster})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)

	n, err := rdb.ZCard(ctx, prefix+":inflight").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisQueueLeaseAtExactDeadline(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	q, rdb, prefix := newRedisQueue(t, fx)

	job, _, err := q.Enqueue(ctx, "t1", fx.file(t, "t1"))
	require.NoError(t, err)

	first, err := q.Lease(ctx, "w1", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	// 截止时间当刻租约仍归 w1，在途条目不能被弹出丢弃
	fx.clock.Advance(30 * time.Second)

	none, err := q.Lease(ctx, "w2", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, none)

	score, err := rdb.ZScore(ctx, prefix+":inflight", job.ID).Result()
	require.NoError(t, err)
	assert.Equal(t, float64(first.Deadline.UnixMilli()), score)

	fx.clock.Advance(time.Millisecond)

	second, err := q.Lease(ctx, "w2", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, job.ID, second.Job.ID)
}

func TestRedisQueueKeepsLeasedJobInflight(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	q, rdb, prefix := newRedisQueue(t, fx)

	job, _, err := q.Enqueue(ctx, "t1", fx.file(t, "t1"))
	require.NoError(t, err)

	first, err := q.Lease(ctx, "w1", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	// 重复推入的待处理条目：弹出后数据库仍显示 w1 持有，条目回到在途集合
	require.NoError(t, rdb.ZAdd(ctx, prefix+":pending", redis.Z{Score: 0, Member: job.ID}).Err())
	fx.clock.Advance(5 * time.Second)

	none, err := q.Lease(ctx, "w2", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, none)

	score, err := rdb.ZScore(ctx, prefix+":inflight", job.ID).Result()
	require.NoError(t, err)
	assert.Equal(t, float64(first.Deadline.UnixMilli()), score)

	// 在途条目丢失后续约会补回
	require.NoError(t, rdb.ZRem(ctx, prefix+":inflight", job.ID).Err())
	require.NoError(t, q.Extend(ctx, first, time.Minute))

	score, err = rdb.ZScore(ctx, prefix+":inflight", job.ID).Result()
	require.NoError(t, err)
	assert.Equal(t, float64(first.Deadline.UnixMilli()), score)

	// w1 崩溃，续约后的截止时间过去后任务可被重新租出
	fx.clock.Advance(time.Minute + time.Millisecond)

	second, err := q.Lease(ctx, "w2", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, job.ID, second.Job.ID)
}
