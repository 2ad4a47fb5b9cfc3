// Package cluster 负责近似重复文件的簇分配.
//
// 分配使用两个独立阈值：近邻相似度低于 JoinThreshold 时直接新建单成员簇；
// 否则计算加入后簇内两两相似度均值，低于 StabilityThreshold 时同样新建簇，
// 达到阈值才加入并更新簇分数. 簇的成员与分数变更都以 version 做乐观并发校验，
// 冲突时重新读取成员后重算，重试次数有上限.
package cluster

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/vectorindex"
	nlog "github.com/yeisme/dedupvault/pkg/log"
)

// Candidate 待分配的文件.
type Candidate struct {
	File   *model.File
	Vector []float32
	// Neighbor 同类别最近邻，nil 表示索引中没有其他条目
	Neighbor *vectorindex.Neighbor
}

// Decision 分配结果.
type Decision struct {
	ClusterID string
	State     model.ClusterState
	// Score 提交后簇的 intra_similarity_score
	Score float64
	// Similarity 与最近邻的相似度，没有近邻时为 0
	Similarity float64
	// AlreadyMember 文件在此前的投递中已完成分配
	AlreadyMember bool
}

// View 簇及其成员.
type View struct {
	Cluster *model.Cluster
	Members []string
}

// Manager 簇管理器.
type Manager struct {
	store      *store.Store
	index      vectorindex.Index
	cfg        configs.DedupConfig
	onConflict func()
}

// Option Manager 可选项.
type Option func(*Manager)

// WithConflictHook 每次版本冲突时回调.
func WithConflictHook(fn func()) Option {
	return func(m *Manager) { m.onConflict = fn }
}

// NewManager 创建簇管理器.
func NewManager(st *store.Store, index vectorindex.Index, cfg configs.DedupConfig, opts ...Option) *Manager {
	m := &Manager{store: st, index: index, cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Assign 为文件分配簇，文件已有簇时直接返回该簇.
func (m *Manager) Assign(ctx context.Context, c Candidate) (Decision, error) {
	var lastErr error

	for attempt := 0; attempt <= m.cfg.MaxConflictRetries; attempt++ {
		if attempt > 0 {
			if err := m.backoff(ctx, attempt); err != nil {
				return Decision{}, err
			}
		}

		d, err := m.assignOnce(ctx, c)
		if err == nil {
			return d, nil
		}

		if !errors.Is(err, errs.ErrConsistencyConflict) {
			return Decision{}, err
		}

		lastErr = err
		m.conflict()
		nlog.Logger().Debug().Err(err).Str("file_id", c.File.ID).Int("attempt", attempt+1).Msg("cluster assign conflict")
	}

	return Decision{}, errors.Wrapf(lastErr, "assign file %s after %d attempts", c.File.ID, m.cfg.MaxConflictRetries+1)
}

func (m *Manager) assignOnce(ctx context.Context, c Candidate) (Decision, error) {
	f, err := m.store.GetFile(ctx, c.File.TenantID, c.File.ID)
	if err != nil {
		return Decision{}, err
	}

	if f.ClusterID != nil {
		return m.existing(ctx, f)
	}

	if c.Neighbor == nil || c.Neighbor.Score < m.cfg.JoinThreshold {
		return m.singleton(ctx, f, similarity(c.Neighbor))
	}

	neighbor, err := m.store.GetFile(ctx, f.TenantID, c.Neighbor.FileID)
	if errors.Is(err, errs.ErrNotFound) {
		// 近邻已被删除，索引条目尚未清理
		return m.singleton(ctx, f, 0)
	}

	if err != nil {
		return Decision{}, err
	}

	if neighbor.ClusterID == nil {
		return m.joinProvisional(ctx, f, neighbor, c)
	}

	return m.joinExisting(ctx, f, *neighbor.ClusterID, c)
}

func (m *Manager) existing(ctx context.Context, f *model.File) (Decision, error) {
	cl, err := m.store.GetCluster(ctx, f.TenantID, *f.ClusterID)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		ClusterID:     cl.ID,
		State:         f.ClusterState,
		Score:         cl.IntraSimilarityScore,
		AlreadyMember: true,
	}, nil
}

func (m *Manager) singleton(ctx context.Context, f *model.File, sim float64) (Decision, error) {
	cl := &model.Cluster{ID: model.NewID(), TenantID: f.TenantID, Category: f.Category}
	if err := m.store.CreateSingleton(ctx, cl, f.ID, model.ClusterStateNewCluster); err != nil {
		return Decision{}, err
	}

	return Decision{ClusterID: cl.ID, State: model.ClusterStateNewCluster, Score: 1.0, Similarity: sim}, nil
}

func (m *Manager) joinExisting(ctx context.Context, f *model.File, clusterID string, c Candidate) (Decision, error) {
	cl, err := m.store.GetCluster(ctx, f.TenantID, clusterID)
	if err != nil {
		return Decision{}, err
	}

	members, err := m.store.ClusterMembers(ctx, cl.ID)
	if err != nil {
		return Decision{}, err
	}

	vecs, err := m.memberVectors(ctx, members)
	if err != nil {
		return Decision{}, err
	}

	score := vectorindex.MeanPairwise(append(vecs, c.Vector))
	if score < m.cfg.StabilityThreshold {
		return m.singleton(ctx, f, c.Neighbor.Score)
	}

	err = m.store.CommitJoin(ctx, store.JoinCommit{
		ClusterID:       cl.ID,
		ExpectedVersion: cl.Version,
		FileID:          f.ID,
		NewScore:        score,
		NewMemberCount:  len(members) + 1,
		State:           model.ClusterStateJoined,
	})
	if err != nil {
		return Decision{}, err
	}

	return Decision{ClusterID: cl.ID, State: model.ClusterStateJoined, Score: score, Similarity: c.Neighbor.Score}, nil
}

func (m *Manager) joinProvisional(ctx context.Context, f, neighbor *model.File, c Candidate) (Decision, error) {
	vecs, err := m.memberVectors(ctx, []string{neighbor.ID})
	if err != nil {
		return Decision{}, err
	}

	score := vectorindex.MeanPairwise(append(vecs, c.Vector))
	if score < m.cfg.StabilityThreshold {
		return m.singleton(ctx, f, c.Neighbor.Score)
	}

	prov := &model.Cluster{
		ID:                   model.NewID(),
		TenantID:             f.TenantID,
		Category:             f.Category,
		IntraSimilarityScore: 1.0,
		MemberCount:          1,
	}

	err = m.store.CommitJoin(ctx, store.JoinCommit{
		ClusterID:       prov.ID,
		ExpectedVersion: 1,
		FileID:          f.ID,
		NewScore:        score,
		NewMemberCount:  2,
		State:           model.ClusterStateJoined,
		Provisional:     prov,
		NeighborID:      neighbor.ID,
	})
	if err != nil {
		return Decision{}, err
	}

	return Decision{ClusterID: prov.ID, State: model.ClusterStateJoined, Score: score, Similarity: c.Neighbor.Score}, nil
}

// memberVectors 按成员顺序读取向量. 成员已提交但向量尚未写入索引时返回
// ConsistencyConflict，由外层重试；否则算出的分数会漏掉该成员.
func (m *Manager) memberVectors(ctx context.Context, ids []string) ([][]float32, error) {
	byID, err := m.index.Vectors(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(ids))

	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			return nil, errs.ConsistencyConflict(nil, "vector of member %s not in index", id)
		}

		out = append(out, v)
	}

	return out, nil
}

// Remove 把文件移出所在簇并重算分数，最后一名成员移出时删除簇.
func (m *Manager) Remove(ctx context.Context, tenant, fileID string) error {
	var lastErr error

	for attempt := 0; attempt <= m.cfg.MaxConflictRetries; attempt++ {
		if attempt > 0 {
			if err := m.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		err := m.removeOnce(ctx, tenant, fileID)
		if err == nil {
			return nil
		}

		if !errors.Is(err, errs.ErrConsistencyConflict) {
			return err
		}

		lastErr = err
		m.conflict()
	}

	return errors.Wrapf(lastErr, "remove file %s from cluster", fileID)
}

func (m *Manager) removeOnce(ctx context.Context, tenant, fileID string) error {
	f, err := m.store.GetFile(ctx, tenant, fileID)
	if err != nil {
		return err
	}

	if f.ClusterID == nil {
		return nil
	}

	cl, err := m.store.GetCluster(ctx, tenant, *f.ClusterID)
	if err != nil {
		return err
	}

	members, err := m.store.ClusterMembers(ctx, cl.ID)
	if err != nil {
		return err
	}

	remaining := make([]string, 0, len(members))

	for _, id := range members {
		if id != fileID {
			remaining = append(remaining, id)
		}
	}

	score := 1.0
	if len(remaining) > 1 {
		vecs, err := m.memberVectors(ctx, remaining)
		if err != nil {
			return err
		}

		score = vectorindex.MeanPairwise(vecs)
	}

	return m.store.CommitRemove(ctx, store.RemoveCommit{
		ClusterID:       cl.ID,
		ExpectedVersion: cl.Version,
		FileID:          fileID,
		NewScore:        score,
		NewMemberCount:  len(remaining),
	})
}

// Get 返回簇与成员列表.
func (m *Manager) Get(ctx context.Context, tenant, clusterID string) (*View, error) {
	cl, err := m.store.GetCluster(ctx, tenant, clusterID)
	if err != nil {
		return nil, err
	}

	members, err := m.store.ClusterMembers(ctx, cl.ID)
	if err != nil {
		return nil, err
	}

	return &View{Cluster: cl, Members: members}, nil
}

func (m *Manager) conflict() {
	if m.onConflict != nil {
		m.onConflict()
	}
}

func (m *Manager) backoff(ctx context.Context, attempt int) error {
	d := m.cfg.ConflictBackoff * time.Duration(attempt)
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func similarity(n *vectorindex.Neighbor) float64 {
	if n == nil {
		return 0
	}

	return n.Score
}
