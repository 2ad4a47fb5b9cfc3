package cluster_test

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/cluster"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/store/storetest"
	"github.com/yeisme/dedupvault/pkg/internal/vectorindex"
)

const tenant = "acme"

type fixture struct {
	store *store.Store
	index *vectorindex.Memory
	mgr   *cluster.Manager
	cfg   configs.DedupConfig
}

func newFixture(t *testing.T, opts ...cluster.Option) *fixture {
	t.Helper()

	cfg := configs.Default().Dedup
	cfg.ConflictBackoff = time.Millisecond
	st := storetest.NewStore(t)
	idx := vectorindex.NewMemory()

	return &fixture{store: st, index: idx, mgr: cluster.NewManager(st, idx, cfg, opts...), cfg: cfg}
}

func (fx *fixture) file(t *testing.T) *model.File {
	t.Helper()

	f := &model.File{ID: model.NewID(), TenantID: tenant, FileName: "f.txt", ObjectKey: "k", Category: model.CategoryDocument}
	require.NoError(t, fx.store.CreateFile(context.Background(), f))

	return f
}

// process 按流水线顺序：查询近邻、写入索引、分配.
func (fx *fixture) process(t *testing.T, f *model.File, vec []float32) cluster.Decision {
	t.Helper()

	ctx := context.Background()

	ns, err := fx.index.Nearest(ctx, vectorindex.Query{TenantID: tenant, Category: f.Category, Vector: vec, K: 1, Exclude: f.ID})
	require.NoError(t, err)

	var nb *vectorindex.Neighbor
	if len(ns) > 0 {
		nb = &ns[0]
	}

	require.NoError(t, fx.index.Insert(ctx, vectorindex.Entry{FileID: f.ID, TenantID: tenant, Category: f.Category, Vector: vec}))

	d, err := fx.mgr.Assign(ctx, cluster.Candidate{File: f, Vector: vec, Neighbor: nb})
	require.NoError(t, err)

	return d
}

// 三个向量两两相似度为 sim(A,B)=0.9, sim(A,C)=0.3, sim(B,C)=0.4.
func abc() (a, b, c []float32) {
	by := math.Sqrt(0.19)
	cy := (0.4 - 0.9*0.3) / by
	cz := math.Sqrt(1 - 0.09 - cy*cy)

	return []float32{1, 0, 0}, []float32{0.9, float32(by), 0}, []float32{0.3, float32(cy), float32(cz)}
}

func TestAssignThreeFileScenario(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	va, vb, vc := abc()

	require.InDelta(t, 0.9, vectorindex.Cosine(va, vb), 1e-6)
	require.InDelta(t, 0.3, vectorindex.Cosine(va, vc), 1e-6)
	require.InDelta(t, 0.4, vectorindex.Cosine(vb, vc), 1e-6)

	a, b, c := fx.file(t), fx.file(t), fx.file(t)

	da := fx.process(t, a, va)
	assert.Equal(t, model.ClusterStateNewCluster, da.State)
	assert.InDelta(t, 1.0, da.Score, 1e-9)

	db := fx.process(t, b, vb)
	assert.Equal(t, model.ClusterStateJoined, db.State)
	assert.Equal(t, da.ClusterID, db.ClusterID)
	assert.InDelta(t, 0.9, db.Score, 1e-6)
	assert.InDelta(t, 0.9, db.Similarity, 1e-6)

	dc := fx.process(t, c, vc)
	assert.Equal(t, model.ClusterStateNewCluster, dc.State)
	assert.NotEqual(t, da.ClusterID, dc.ClusterID)
	assert.InDelta(t, 1.0, dc.Score, 1e-9)
	assert.InDelta(t, 0.4, dc.Similarity, 1e-6)

	x, err := fx.mgr.Get(ctx, tenant, da.ClusterID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, x.Cluster.IntraSimilarityScore, 1e-6)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, x.Members)
	assert.Equal(t, 2, x.Cluster.MemberCount)
}

func TestAssignBelowJoinThresholdIsSingleton(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a, b := fx.file(t), fx.file(t)
	fx.process(t, a, []float32{1, 0})

	d, err := fx.mgr.Assign(ctx, cluster.Candidate{
		File: b, Vector: []float32{0, 1}, Neighbor: &vectorindex.Neighbor{FileID: a.ID, Score: 0.74},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ClusterStateNewCluster, d.State)
	assert.InDelta(t, 1.0, d.Score, 1e-9)
}

func TestAssignStabilityRejectsJoin(t *testing.T) {
	fx := newFixture(t)

	// 近邻相似度 0.78 越过加入阈值，但加入后的簇平均相似度低于稳定阈值
	a, b := fx.file(t), fx.file(t)
	fx.process(t, a, []float32{1, 0})

	v := []float32{0.78, float32(math.Sqrt(1 - 0.78*0.78))}
	d := fx.process(t, b, v)
	assert.Equal(t, model.ClusterStateNewCluster, d.State)
	assert.InDelta(t, 0.78, d.Similarity, 1e-6)
	assert.InDelta(t, 1.0, d.Score, 1e-9)
}

func TestAssignIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.file(t)
	first := fx.process(t, a, []float32{1, 0})

	again, err := fx.mgr.Assign(ctx, cluster.Candidate{File: a, Vector: []float32{1, 0}})
	require.NoError(t, err)
	assert.True(t, again.AlreadyMember)
	assert.Equal(t, first.ClusterID, again.ClusterID)

	n, err := fx.store.CountClusters(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAssignProvisionalCluster(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// 近邻在索引中但尚未分配簇
	neighbor, f := fx.file(t), fx.file(t)
	require.NoError(t, fx.index.Insert(ctx, vectorindex.Entry{FileID: neighbor.ID, TenantID: tenant, Category: model.CategoryDocument, Vector: []float32{1, 0}}))

	d := fx.process(t, f, []float32{0.95, float32(math.Sqrt(1 - 0.95*0.95))})
	assert.Equal(t, model.ClusterStateJoined, d.State)
	assert.InDelta(t, 0.95, d.Score, 1e-6)

	v, err := fx.mgr.Get(ctx, tenant, d.ClusterID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{neighbor.ID, f.ID}, v.Members)
}

func TestConcurrentJoinsKeepScoreConsistent(t *testing.T) {
	var conflicts atomic.Int32

	fx := newFixture(t, cluster.WithConflictHook(func() { conflicts.Add(1) }))
	ctx := context.Background()

	seed := fx.file(t)
	seedDecision := fx.process(t, seed, []float32{1, 0, 0})

	vecs := [][]float32{
		{0.99, 0.141, 0},
		{0.98, 0, 0.199},
		{0.97, 0.171, 0.171},
		{0.99, 0, 0.141},
	}

	files := make([]*model.File, len(vecs))
	for i := range vecs {
		files[i] = fx.file(t)
	}

	var wg sync.WaitGroup

	for i := range vecs {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			assert.NoError(t, fx.index.Insert(ctx, vectorindex.Entry{FileID: files[i].ID, TenantID: tenant, Category: model.CategoryDocument, Vector: vecs[i]}))

			d, err := fx.mgr.Assign(ctx, cluster.Candidate{
				File: files[i], Vector: vecs[i], Neighbor: &vectorindex.Neighbor{FileID: seed.ID, Score: 0.95},
			})
			assert.NoError(t, err)
			assert.Equal(t, seedDecision.ClusterID, d.ClusterID)
		}(i)
	}

	wg.Wait()

	v, err := fx.mgr.Get(ctx, tenant, seedDecision.ClusterID)
	require.NoError(t, err)
	require.Len(t, v.Members, len(vecs)+1)
	assert.Equal(t, len(vecs)+1, v.Cluster.MemberCount)
	assert.Equal(t, int64(len(vecs)+1), v.Cluster.Version)
	assert.GreaterOrEqual(t, v.Cluster.IntraSimilarityScore, fx.cfg.StabilityThreshold)

	all := [][]float32{{1, 0, 0}}
	all = append(all, vecs...)
	assert.InDelta(t, vectorindex.MeanPairwise(all), v.Cluster.IntraSimilarityScore, 1e-6)
}

// 成员已入簇但向量还没写入索引时，其他文件的加入不能按缺少该成员的向量计算分数.
func TestJoinWaitsForMemberVector(t *testing.T) {
	var conflicts atomic.Int32

	fx := newFixture(t, cluster.WithConflictHook(func() { conflicts.Add(1) }))
	ctx := context.Background()

	va := []float32{1, 0, 0}
	vb := []float32{0.9, float32(math.Sqrt(0.19)), 0}
	vc := []float32{0.95, 0, float32(math.Sqrt(1 - 0.95*0.95))}

	a, b, c := fx.file(t), fx.file(t), fx.file(t)
	da := fx.process(t, a, va)

	// b 已提交入簇，向量尚未写入
	db, err := fx.mgr.Assign(ctx, cluster.Candidate{File: b, Vector: vb, Neighbor: &vectorindex.Neighbor{FileID: a.ID, Score: 0.9}})
	require.NoError(t, err)
	require.Equal(t, da.ClusterID, db.ClusterID)

	_, err = fx.mgr.Assign(ctx, cluster.Candidate{File: c, Vector: vc, Neighbor: &vectorindex.Neighbor{FileID: a.ID, Score: 0.95}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConsistencyConflict))
	assert.Equal(t, int32(fx.cfg.MaxConflictRetries+1), conflicts.Load())

	v, err := fx.mgr.Get(ctx, tenant, da.ClusterID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, v.Members)
	assert.InDelta(t, 0.9, v.Cluster.IntraSimilarityScore, 1e-6)

	// b 的向量写入后，c 的加入按三个成员计算
	require.NoError(t, fx.index.Insert(ctx, vectorindex.Entry{FileID: b.ID, TenantID: tenant, Category: model.CategoryDocument, Vector: vb}))

	dc, err := fx.mgr.Assign(ctx, cluster.Candidate{File: c, Vector: vc, Neighbor: &vectorindex.Neighbor{FileID: a.ID, Score: 0.95}})
	require.NoError(t, err)

	assert.Equal(t, da.ClusterID, dc.ClusterID)

	// (0.9 + 0.95 + 0.855) / 3
	want := vectorindex.MeanPairwise([][]float32{va, vb, vc})
	require.InDelta(t, 0.9017, want, 1e-3)

	v, err = fx.mgr.Get(ctx, tenant, da.ClusterID)
	require.NoError(t, err)
	assert.Len(t, v.Members, 3)
	assert.InDelta(t, want, v.Cluster.IntraSimilarityScore, 1e-6)
	assert.InDelta(t, want, dc.Score, 1e-6)
}

func TestRemoveRecomputesAndDeletesEmpty(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	va, vb, _ := abc()

	a, b := fx.file(t), fx.file(t)
	da := fx.process(t, a, va)
	fx.process(t, b, vb)

	require.NoError(t, fx.mgr.Remove(ctx, tenant, b.ID))

	v, err := fx.mgr.Get(ctx, tenant, da.ClusterID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, v.Members)
	assert.InDelta(t, 1.0, v.Cluster.IntraSimilarityScore, 1e-9)

	// 已不在簇中的文件再次移除是空操作
	require.NoError(t, fx.mgr.Remove(ctx, tenant, b.ID))

	require.NoError(t, fx.mgr.Remove(ctx, tenant, a.ID))
	_, err = fx.mgr.Get(ctx, tenant, da.ClusterID)
	assert.Error(t, err)
}
