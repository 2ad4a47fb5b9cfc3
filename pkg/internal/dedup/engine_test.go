package dedup_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/cluster"
	"github.com/yeisme/dedupvault/pkg/internal/dedup"
	"github.com/yeisme/dedupvault/pkg/internal/embedding"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	s3c "github.com/yeisme/dedupvault/pkg/internal/storage/s3"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/store/storetest"
	"github.com/yeisme/dedupvault/pkg/internal/vectorindex"
)

type countingEmbedder struct {
	next  dedup.Embedder
	calls atomic.Int32
	fail  error
}

func (c *countingEmbedder) Embed(ctx context.Context, req embedding.Request) ([]float32, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return nil, errs.External(c.fail, "embed")
	}

	return c.next.Embed(ctx, req)
}

type env struct {
	store    *store.Store
	objects  *s3c.MemoryStore
	index    *vectorindex.Memory
	embedder *countingEmbedder
	engine   *dedup.Engine
	steps    []string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := configs.Default().Dedup
	st := storetest.NewStore(t)
	objects := s3c.NewMemoryStore("test")
	idx := vectorindex.NewMemory()

	providers := map[model.Category]embedding.Provider{
		model.CategoryDocument: embedding.NewHashing(1024, embedding.HashWords),
		model.CategoryImage:    embedding.NewHashing(256, embedding.HashBytes),
	}
	emb := &countingEmbedder{next: embedding.NewEmbedder(providers, objects, embedding.Options{})}

	e := &env{store: st, objects: objects, index: idx, embedder: emb}
	e.engine = dedup.New(st, objects, emb, idx, cluster.NewManager(st, idx, cfg), cfg,
		dedup.WithStepObserver(func(step string, _ time.Duration) { e.steps = append(e.steps, step) }))

	return e
}

func (e *env) upload(t *testing.T, tenant, name, contentType, body string) *model.File {
	t.Helper()

	f := &model.File{
		ID:          model.NewID(),
		TenantID:    tenant,
		FileName:    name,
		ObjectKey:   "uploads/" + tenant + "/" + model.NewULID() + "-" + name,
		ContentType: contentType,
		Category:    model.ClassifyCategory(contentType, name),
		Size:        int64(len(body)),
	}
	e.objects.Put(f.ObjectKey, []byte(body))
	require.NoError(t, e.store.CreateFile(context.Background(), f))

	return f
}

const report = "quarterly revenue grew across all regions while operating costs declined " +
	"the board approved the budget for next year and hiring plans for engineering sales and support " +
	"customer retention improved and churn fell to a record low"

func TestExactDuplicateSkipsEmbedding(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	f1 := e.upload(t, "t1", "a.txt", "text/plain", report)
	f2 := e.upload(t, "t1", "copy.txt", "text/plain", report)

	r1, err := e.engine.Process(ctx, f1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNewCluster, r1.Outcome)
	assert.Len(t, r1.SHA256, 64)
	assert.Nil(t, r1.Similarity)
	assert.Equal(t, int32(1), e.embedder.calls.Load())
	assert.Equal(t, []string{"hash", "lookup", "embed", "search", "insert", "assign"}, e.steps)

	r2, err := e.engine.Process(ctx, f2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeExactDuplicate, r2.Outcome)
	assert.Equal(t, f1.ID, r2.DuplicateOf)
	assert.Equal(t, r1.SHA256, r2.SHA256)
	assert.Equal(t, int32(1), e.embedder.calls.Load())
	assert.Equal(t, 1, e.index.Len())

	got, err := e.store.GetFile(ctx, "t1", f2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClusterStateDuplicate, got.ClusterState)
	assert.Nil(t, got.ClusterID)
}

func TestSameBytesOtherTenantIsNotDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	f1 := e.upload(t, "t1", "a.txt", "text/plain", report)
	f2 := e.upload(t, "t2", "a.txt", "text/plain", report)

	_, err := e.engine.Process(ctx, f1.ID)
	require.NoError(t, err)

	r2, err := e.engine.Process(ctx, f2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNewCluster, r2.Outcome)
	assert.Nil(t, r2.Similarity)
}

func TestNearDuplicateJoinsCluster(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	f1 := e.upload(t, "t1", "a.txt", "text/plain", report)
	f2 := e.upload(t, "t1", "b.txt", "text/plain", report+" overall")
	f3 := e.upload(t, "t1", "c.txt", "text/plain", "recipe flour sugar eggs butter bake oven minutes golden")
	img := e.upload(t, "t1", "d.png", "", strings.Repeat("\x89PNG\x00\x01\x02\x03", 32))

	r1, err := e.engine.Process(ctx, f1.ID)
	require.NoError(t, err)

	r2, err := e.engine.Process(ctx, f2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeJoinedCluster, r2.Outcome)
	assert.Equal(t, r1.ClusterID, r2.ClusterID)
	require.NotNil(t, r2.Similarity)
	assert.Greater(t, *r2.Similarity, 0.9)

	r3, err := e.engine.Process(ctx, f3.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNewCluster, r3.Outcome)
	assert.NotEqual(t, r1.ClusterID, r3.ClusterID)
	require.NotNil(t, r3.ClusterScore)
	assert.InDelta(t, 1.0, *r3.ClusterScore, 1e-9)

	// 图片只与图片比较
	r4, err := e.engine.Process(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNewCluster, r4.Outcome)
	assert.Nil(t, r4.Similarity)
}

func TestReprocessIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	f := e.upload(t, "t1", "a.txt", "text/plain", report)

	r1, err := e.engine.Process(ctx, f.ID)
	require.NoError(t, err)

	r2, err := e.engine.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ClusterID, r2.ClusterID)
	assert.Equal(t, r1.Outcome, r2.Outcome)
	assert.Equal(t, int32(1), e.embedder.calls.Load())

	n, err := e.store.CountClusters(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 分配后写索引前中断，重跑补写索引
	require.NoError(t, e.index.Delete(ctx, f.ID))

	r3, err := e.engine.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ClusterID, r3.ClusterID)
	assert.Equal(t, 1, e.index.Len())
}

func TestEmbeddingFailureLeavesFileUnassigned(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	f := e.upload(t, "t1", "a.txt", "text/plain", report)
	e.embedder.fail = errors.New("provider timeout")

	_, err := e.engine.Process(ctx, f.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrExternalCapability))
	assert.True(t, errs.Retryable(err))

	got, err := e.store.GetFile(ctx, "t1", f.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClusterID)
	assert.Equal(t, model.ClusterStatePendingDecision, got.ClusterState)

	// 恢复后重试完成
	e.embedder.fail = nil
	r, err := e.engine.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNewCluster, r.Outcome)
}

func TestMissingObjectIsExternalError(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	f := e.upload(t, "t1", "a.txt", "text/plain", report)
	require.NoError(t, e.objects.Remove(ctx, f.ObjectKey))

	_, err := e.engine.Process(ctx, f.ID)
	assert.True(t, errors.Is(err, errs.ErrExternalCapability))

	_, err = e.engine.Process(ctx, "missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}
