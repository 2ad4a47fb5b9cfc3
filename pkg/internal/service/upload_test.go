package service_test

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/cache"
	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/jobqueue"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/service"
	"github.com/yeisme/dedupvault/pkg/internal/storage/kv"
	"github.com/yeisme/dedupvault/pkg/internal/storage/s3"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/store/storetest"
	"github.com/yeisme/dedupvault/pkg/internal/types"
	"github.com/yeisme/dedupvault/pkg/queue"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
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

type recorder struct {
	mu      sync.Mutex
	jobs    []model.Job
	deleted []queue.FileDeletedPayload
}

func (r *recorder) JobChanged(_ context.Context, job *model.Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, *job)
	r.mu.Unlock()
}

func (r *recorder) FileDeleted(_ context.Context, p queue.FileDeletedPayload) {
	r.mu.Lock()
	r.deleted = append(r.deleted, p)
	r.mu.Unlock()
}

type uploadFixture struct {
	cfg      configs.UploadConfig
	clock    *clock
	objects  *s3.MemoryStore
	store    *store.Store
	queue    *jobqueue.DBQueue
	sessions *cache.Cache
	events   *recorder
	svc      *service.UploadService
}

func newUploadFixture(t *testing.T, mutate ...func(*configs.UploadConfig)) *uploadFixture {
	t.Helper()

	all := configs.Default()
	cfg := all.Upload

	for _, m := range mutate {
		m(&cfg)
	}

	clk := newClock()
	db := storetest.NewDB(t)
	fx := &uploadFixture{
		cfg:     cfg,
		clock:   clk,
		objects: s3.NewMemoryStore("test"),
		store:   store.New(db),
		queue:   jobqueue.NewDBQueue(db, all.Queue),
		events:  &recorder{},
	}

	fx.sessions = cache.NewCache(kv.NewMemoryKVWithClock(clk.Now), service.UploadCachePrefix)
	fx.useQueue(fx.queue)

	return fx
}

func (fx *uploadFixture) useQueue(q jobqueue.Queue) {
	fx.svc = service.NewUploadService(fx.cfg, "uploads", fx.objects, fx.sessions, fx.store, q, fx.events).
		WithClock(fx.clock.Now)
}

// unavailableQueue 前 n 次 Submit 失败，模拟元数据库短暂不可用.
type unavailableQueue struct {
	jobqueue.Queue
	failures int
}

func (q *unavailableQueue) Submit(ctx context.Context, f *model.File) (*model.Job, error) {
	if q.failures > 0 {
		q.failures--
		return nil, errors.New("metadata store unavailable")
	}

	return q.Queue.Submit(ctx, f)
}

func (fx *uploadFixture) counts(t *testing.T) (files, jobs int64) {
	t.Helper()

	db := fx.store.DB()
	require.NoError(t, db.Model(&model.File{}).Count(&files).Error)
	require.NoError(t, db.Model(&model.Job{}).Count(&jobs).Error)

	return files, jobs
}

func (fx *uploadFixture) initiate(t *testing.T, tenant, name string) *types.InitiateUploadResponse {
	t.Helper()

	resp, err := fx.svc.Initiate(context.Background(), tenant, &types.InitiateUploadRequest{FileName: name, ContentType: "text/plain"})
	require.NoError(t, err)

	return resp
}

// put 申请分片地址并按地址中的 uploadId 写入内容.
func (fx *uploadFixture) put(t *testing.T, tenant, name, uploadID string, n int, data []byte) types.CompletedPart {
	t.Helper()

	ctx := context.Background()

	presigned, err := fx.svc.AuthorizePart(ctx, tenant, &types.PresignPartRequest{FileName: name, UploadID: uploadID, PartNumber: n})
	require.NoError(t, err)
	assert.Equal(t, n, presigned.PartNumber)

	u, err := url.Parse(presigned.PresignedURL)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(n), u.Query().Get("partNumber"))

	etag, err := fx.objects.UploadPart(ctx, u.Query().Get("uploadId"), n, data)
	require.NoError(t, err)

	return types.CompletedPart{PartNumber: n, ETag: `"` + etag + `"`}
}

func (fx *uploadFixture) complete(tenant, name, uploadID string, parts ...types.CompletedPart) (*types.CompleteUploadResponse, error) {
	return fx.svc.Complete(context.Background(), tenant, &types.CompleteUploadRequest{FileName: name, UploadID: uploadID, Parts: parts})
}

func readObject(t *testing.T, objects *s3.MemoryStore, key string) string {
	t.Helper()

	rc, err := objects.Open(context.Background(), key)
	require.NoError(t, err)

	defer rc.Close()

	buf, err := io.ReadAll(rc)
	require.NoError(t, err)

	return string(buf)
}

func TestUploadOutOfOrderParts(t *testing.T) {
	fx := newUploadFixture(t)
	ctx := context.Background()

	up := fx.initiate(t, "t1", "notes.txt")
	assert.Equal(t, fx.cfg.ChunkSize, up.ChunkSize)
	assert.Equal(t, fx.clock.Now().Add(fx.cfg.SessionTTL), up.ExpiresAt)
	assert.Contains(t, up.ObjectKey, "uploads/t1/")

	p3 := fx.put(t, "t1", "notes.txt", up.UploadID, 3, []byte("gamma"))
	p1 := fx.put(t, "t1", "notes.txt", up.UploadID, 1, []byte("alpha-"))
	p2 := fx.put(t, "t1", "notes.txt", up.UploadID, 2, []byte("beta-"))

	resp, err := fx.complete("t1", "notes.txt", up.UploadID, p2, p3, p1)
	require.NoError(t, err)
	assert.Equal(t, int64(len("alpha-beta-gamma")), resp.Size)
	assert.Equal(t, "alpha-beta-gamma", readObject(t, fx.objects, resp.ObjectKey))
	assert.Zero(t, fx.objects.PendingUploads())

	f, err := fx.store.GetFile(ctx, "t1", resp.FileID)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryDocument, f.Category)
	assert.Equal(t, model.ClusterStateUnassigned, f.ClusterState)

	job, err := fx.queue.Get(ctx, "t1", resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, resp.FileID, job.FileID)

	_, total, err := fx.queue.List(ctx, jobqueue.ListFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	require.Len(t, fx.events.jobs, 1)
	assert.Equal(t, resp.JobID, fx.events.jobs[0].ID)

	// 会话已删除
	_, err = fx.complete("t1", "notes.txt", up.UploadID, p1, p2, p3)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestInitiateRejectsBadInput(t *testing.T) {
	fx := newUploadFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Initiate(ctx, "t1", &types.InitiateUploadRequest{FileName: ""})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = fx.svc.Initiate(ctx, "t1", &types.InitiateUploadRequest{FileName: "../etc/passwd"})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = fx.svc.Initiate(ctx, "t1", &types.InitiateUploadRequest{FileName: "clip.mp4", ContentType: "video/mp4"})
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.Zero(t, fx.objects.PendingUploads())

	resp, err := fx.svc.Initiate(ctx, "t1", &types.InitiateUploadRequest{FileName: "cat.png"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.UploadID)
}

func TestInitiateHonoursAllowedCategories(t *testing.T) {
	fx := newUploadFixture(t, func(c *configs.UploadConfig) { c.AllowedCategories = []string{"document"} })

	_, err := fx.svc.Initiate(context.Background(), "t1", &types.InitiateUploadRequest{FileName: "cat.png", ContentType: "image/png"})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestAuthorizePartLimits(t *testing.T) {
	fx := newUploadFixture(t, func(c *configs.UploadConfig) { c.MaxParts = 2 })
	ctx := context.Background()
	up := fx.initiate(t, "t1", "a.txt")

	cases := []types.PresignPartRequest{
		{FileName: "a.txt", UploadID: up.UploadID, PartNumber: 0},
		{FileName: "a.txt", UploadID: up.UploadID, PartNumber: 3},
		{FileName: "a.txt", UploadID: up.UploadID, PartNumber: 1, ExpiresInSecs: 604801},
		{FileName: "b.txt", UploadID: up.UploadID, PartNumber: 1},
	}
	for _, req := range cases {
		_, err := fx.svc.AuthorizePart(ctx, "t1", &req)
		assert.True(t, errors.Is(err, errs.ErrValidation), "%+v", req)
	}

	resp, err := fx.svc.AuthorizePart(ctx, "t1", &types.PresignPartRequest{
		FileName: "a.txt", UploadID: up.UploadID, PartNumber: 1, ExpiresInSecs: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, fx.clock.Now().Add(time.Minute), resp.ExpiresAt)

	_, err = fx.svc.AuthorizePart(ctx, "t1", &types.PresignPartRequest{FileName: "a.txt", UploadID: "missing", PartNumber: 1})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCompleteRejectsIncompleteParts(t *testing.T) {
	fx := newUploadFixture(t)
	up := fx.initiate(t, "t1", "a.txt")

	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("one"))
	p2 := fx.put(t, "t1", "a.txt", up.UploadID, 2, []byte("two"))
	p3 := fx.put(t, "t1", "a.txt", up.UploadID, 3, []byte("three"))

	_, err := fx.complete("t1", "a.txt", up.UploadID)
	assert.True(t, errors.Is(err, errs.ErrIncompleteUpload), "no parts")

	_, err = fx.complete("t1", "a.txt", up.UploadID, p1, p3)
	assert.True(t, errors.Is(err, errs.ErrIncompleteUpload), "gap")

	_, err = fx.complete("t1", "a.txt", up.UploadID, p1, p2)
	assert.True(t, errors.Is(err, errs.ErrIncompleteUpload), "authorized part 3 missing")

	_, err = fx.complete("t1", "a.txt", up.UploadID, p1, p2, p2)
	assert.True(t, errors.Is(err, errs.ErrValidation), "duplicate")

	bad := p2
	bad.ETag = "deadbeef"
	_, err = fx.complete("t1", "a.txt", up.UploadID, p1, bad, p3)
	assert.True(t, errors.Is(err, errs.ErrIncompleteUpload), "tag mismatch")

	// 失败的完成请求不影响会话
	assert.Equal(t, 1, fx.objects.PendingUploads())

	_, err = fx.complete("t1", "a.txt", up.UploadID, p1, p2, p3)
	require.NoError(t, err)
}

func TestCompleteRejectsAuthorizedButNotUploadedPart(t *testing.T) {
	fx := newUploadFixture(t)
	ctx := context.Background()
	up := fx.initiate(t, "t1", "a.txt")

	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("one"))

	_, err := fx.svc.AuthorizePart(ctx, "t1", &types.PresignPartRequest{FileName: "a.txt", UploadID: up.UploadID, PartNumber: 2})
	require.NoError(t, err)

	_, err = fx.complete("t1", "a.txt", up.UploadID, p1, types.CompletedPart{PartNumber: 2, ETag: "x"})
	assert.True(t, errors.Is(err, errs.ErrIncompleteUpload))
}

func TestCompleteRejectsOversizedChunk(t *testing.T) {
	fx := newUploadFixture(t, func(c *configs.UploadConfig) { c.ChunkSize = 4 })
	up := fx.initiate(t, "t1", "a.txt")

	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("too-long"))
	p2 := fx.put(t, "t1", "a.txt", up.UploadID, 2, []byte("tail-may-be-any-size"))

	_, err := fx.complete("t1", "a.txt", up.UploadID, p1, p2)
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestExpiredSession(t *testing.T) {
	fx := newUploadFixture(t)
	up := fx.initiate(t, "t1", "a.txt")
	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("one"))

	fx.clock.Advance(fx.cfg.SessionTTL + time.Second)

	_, err := fx.complete("t1", "a.txt", up.UploadID, p1)
	assert.True(t, errors.Is(err, errs.ErrSessionExpired))

	_, err = fx.svc.AuthorizePart(context.Background(), "t1", &types.PresignPartRequest{
		FileName: "a.txt", UploadID: up.UploadID, PartNumber: 2,
	})
	assert.True(t, errors.Is(err, errs.ErrSessionExpired))

	// 超过保留期后会话不存在
	fx.clock.Advance(fx.cfg.SessionRetention)

	_, err = fx.complete("t1", "a.txt", up.UploadID, p1)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestUploadIsTenantScoped(t *testing.T) {
	fx := newUploadFixture(t)
	up := fx.initiate(t, "t1", "a.txt")
	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("one"))

	_, err := fx.complete("t2", "a.txt", up.UploadID, p1)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	assert.True(t, errors.Is(fx.svc.Abort(context.Background(), "t2", up.UploadID), errs.ErrNotFound))
	assert.Equal(t, 1, fx.objects.PendingUploads())
}

func TestAbortUpload(t *testing.T) {
	fx := newUploadFixture(t)
	ctx := context.Background()
	up := fx.initiate(t, "t1", "a.txt")
	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("one"))

	require.NoError(t, fx.svc.Abort(ctx, "t1", up.UploadID))
	assert.Zero(t, fx.objects.PendingUploads())

	_, err := fx.complete("t1", "a.txt", up.UploadID, p1)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	assert.True(t, errors.Is(fx.svc.Abort(ctx, "t1", up.UploadID), errs.ErrNotFound))
}

func TestCleanupExpired(t *testing.T) {
	fx := newUploadFixture(t)
	ctx := context.Background()

	old := fx.initiate(t, "t1", "old.txt")
	fx.put(t, "t1", "old.txt", old.UploadID, 1, []byte("x"))

	fx.clock.Advance(fx.cfg.SessionTTL - time.Minute)
	fresh := fx.initiate(t, "t1", "fresh.txt")
	fx.clock.Advance(2 * time.Minute)

	n, err := fx.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fx.objects.PendingUploads())

	err = fx.svc.Abort(ctx, "t1", old.UploadID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	require.NoError(t, fx.svc.Abort(ctx, "t1", fresh.UploadID))

	n, err = fx.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompleteRetryAfterPersistFailure(t *testing.T) {
	fx := newUploadFixture(t)
	ctx := context.Background()
	fx.useQueue(&unavailableQueue{Queue: fx.queue, failures: 1})

	up := fx.initiate(t, "t1", "a.txt")
	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("alpha-"))
	p2 := fx.put(t, "t1", "a.txt", up.UploadID, 2, []byte("beta"))

	_, err := fx.complete("t1", "a.txt", up.UploadID, p1, p2)
	require.Error(t, err)

	// 对象已合并，但文件与任务都没有落库
	files, jobs := fx.counts(t)
	assert.Zero(t, files)
	assert.Zero(t, jobs)
	assert.Zero(t, fx.objects.PendingUploads())
	assert.True(t, fx.objects.Has(up.ObjectKey))
	assert.Empty(t, fx.events.jobs)

	resp, err := fx.complete("t1", "a.txt", up.UploadID, p1, p2)
	require.NoError(t, err)
	assert.Equal(t, int64(len("alpha-beta")), resp.Size)
	assert.Equal(t, "alpha-beta", readObject(t, fx.objects, resp.ObjectKey))

	files, jobs = fx.counts(t)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(1), jobs)

	job, err := fx.queue.Get(ctx, "t1", resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, resp.FileID, job.FileID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	require.Len(t, fx.events.jobs, 1)

	_, err = fx.complete("t1", "a.txt", up.UploadID, p1, p2)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCompleteRetryReturnsCommittedFile(t *testing.T) {
	fx := newUploadFixture(t)
	ctx := context.Background()

	up := fx.initiate(t, "t1", "a.txt")
	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("one"))

	// 前一次请求已提交文件与任务，但会话未能删除
	sess, err := cache.Get[types.UploadSession](ctx, fx.sessions, "session."+up.UploadID)
	require.NoError(t, err)

	sess.FileID = model.NewID()
	require.NoError(t, cache.Set(ctx, fx.sessions, "session."+up.UploadID, sess, time.Hour))

	parts, err := fx.objects.ListParts(ctx, sess.ObjectKey, sess.S3UploadID)
	require.NoError(t, err)
	_, err = fx.objects.CompleteMultipartUpload(ctx, sess.ObjectKey, sess.S3UploadID, parts)
	require.NoError(t, err)

	committed, err := fx.queue.Submit(ctx, &model.File{
		ID: sess.FileID, TenantID: "t1", FileName: "a.txt", ObjectKey: sess.ObjectKey, Category: sess.Category, Size: 3,
	})
	require.NoError(t, err)

	resp, err := fx.complete("t1", "a.txt", up.UploadID, p1)
	require.NoError(t, err)
	assert.Equal(t, sess.FileID, resp.FileID)
	assert.Equal(t, committed.ID, resp.JobID)

	files, jobs := fx.counts(t)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(1), jobs)
}

func TestCleanupResumesAssembledUpload(t *testing.T) {
	fx := newUploadFixture(t)
	ctx := context.Background()
	fx.useQueue(&unavailableQueue{Queue: fx.queue, failures: 1})

	up := fx.initiate(t, "t1", "a.txt")
	p1 := fx.put(t, "t1", "a.txt", up.UploadID, 1, []byte("one"))

	_, err := fx.complete("t1", "a.txt", up.UploadID, p1)
	require.Error(t, err)

	// 客户端没有重试，会话过期后由清理任务补建
	fx.clock.Advance(fx.cfg.SessionTTL + time.Second)

	n, err := fx.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	files, jobs := fx.counts(t)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(1), jobs)
	assert.True(t, fx.objects.Has(up.ObjectKey))
	require.Len(t, fx.events.jobs, 1)

	n, err = fx.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInitiateAbortsUploadWhenSessionStoreFails(t *testing.T) {
	fx := newUploadFixture(t)
	sessions := cache.NewCache(failingKV{}, service.UploadCachePrefix)
	svc := service.NewUploadService(fx.cfg, "uploads", fx.objects, sessions, fx.store, fx.queue, nil)

	_, err := svc.Initiate(context.Background(), "t1", &types.InitiateUploadRequest{FileName: "a.txt"})
	assert.True(t, errors.Is(err, errs.ErrExternalCapability))
	assert.Zero(t, fx.objects.PendingUploads())
}

type failingKV struct{ kv.KVStore }

func (failingKV) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("kv unavailable")
}
