package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/jobqueue"
	"github.com/yeisme/dedupvault/pkg/internal/jobs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/store/storetest"
	"github.com/yeisme/dedupvault/pkg/metrics"
	"github.com/yeisme/dedupvault/pkg/scheduler"
)

type cleaner struct {
	n   int
	err error
}

func (c cleaner) CleanupExpired(context.Context) (int, error) { return c.n, c.err }

type recorder struct {
	mu   sync.Mutex
	jobs []model.Job
}

func (r *recorder) JobChanged(_ context.Context, job *model.Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, *job)
	r.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newQueue(t *testing.T, mode configs.RetryMode) (*jobqueue.DBQueue, *clock, func() string) {
	t.Helper()

	cfg := configs.Default().Queue
	cfg.Retry.Mode = mode

	db := storetest.NewDB(t)
	c := &clock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}

	file := func() string {
		f := &model.File{ID: model.NewID(), TenantID: "t1", FileName: "a.txt", ObjectKey: "k", Category: model.CategoryDocument}
		require.NoError(t, db.Create(f).Error)

		return f.ID
	}

	return jobqueue.NewDBQueue(db, cfg, jobqueue.WithClock(c.Now)), c, file
}

// failOne 入队并以可重试错误结束一个任务.
func failOne(t *testing.T, q jobqueue.Queue, fileID string) *model.Job {
	t.Helper()

	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "t1", fileID)
	require.NoError(t, err)

	lease, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	job, err := q.Ack(ctx, lease, jobqueue.AckResult{Status: model.JobStatusFailed, ErrorMessage: "timeout", Retryable: true})
	require.NoError(t, err)

	return job
}

func TestRetryFailedRequeuesDueJobs(t *testing.T) {
	q, c, file := newQueue(t, configs.RetryModeAuto)
	ctx := context.Background()
	events := &recorder{}

	failed := failOne(t, q, file())
	require.NotNil(t, failed.NextRetryAt)

	require.NoError(t, jobs.RetryFailed(ctx, q, events))
	assert.Empty(t, events.jobs, "backoff not elapsed")

	c.Advance(time.Hour)

	require.NoError(t, jobs.RetryFailed(ctx, q, events))
	require.Len(t, events.jobs, 1)
	assert.Equal(t, failed.ID, events.jobs[0].ID)
	assert.Equal(t, model.JobStatusPending, events.jobs[0].Status)
	assert.Equal(t, 1, events.jobs[0].Attempts)

	got, err := q.Get(ctx, "t1", failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
}

func TestRetryFailedManualMode(t *testing.T) {
	q, c, file := newQueue(t, configs.RetryModeManual)
	events := &recorder{}

	failed := failOne(t, q, file())
	c.Advance(time.Hour)

	require.NoError(t, jobs.RetryFailed(context.Background(), q, events))
	assert.Empty(t, events.jobs)

	got, err := q.Get(context.Background(), "t1", failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
}

func TestRecordQueueDepth(t *testing.T) {
	q, _, file := newQueue(t, configs.RetryModeManual)
	ctx := context.Background()

	failOne(t, q, file())

	for range 2 {
		_, _, err := q.Enqueue(ctx, "t1", file())
		require.NoError(t, err)
	}

	require.NoError(t, jobs.RecordQueueDepth(ctx, q))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("pending")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("failed")), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("processing")), 0)
}

func TestCleanupSessions(t *testing.T) {
	require.NoError(t, jobs.CleanupSessions(context.Background(), cleaner{n: 3}))

	err := jobs.CleanupSessions(context.Background(), cleaner{err: errors.New("kv down")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kv down")
}

func TestRegisterCronJobs(t *testing.T) {
	q, _, _ := newQueue(t, configs.RetryModeAuto)

	sched, err := scheduler.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Stop() })

	require.Error(t, jobs.RegisterCronJobs(context.Background(), sched, jobs.Deps{Queue: q}))
	require.NoError(t, jobs.RegisterCronJobs(context.Background(), sched, jobs.Deps{Uploads: cleaner{}, Queue: q}))

	names := make([]string, 0, 3)
	for _, info := range sched.GetJobInfos() {
		names = append(names, info.Name)
	}

	assert.Equal(t, []string{jobs.JobQueueGauge, jobs.JobRetryFailed, jobs.JobUploadSessionsCleanup}, names)

	info, err := sched.GetJobInfoByName(jobs.JobUploadSessionsCleanup)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", info.CronExpr)
}
