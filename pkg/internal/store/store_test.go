package store_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/store/storetest"
)

func newFile(t *testing.T, s *store.Store, tenant string) *model.File {
	t.Helper()

	f := &model.File{
		ID:        uuid.NewString(),
		TenantID:  tenant,
		FileName:  "report.txt",
		ObjectKey: "uploads/" + tenant + "/report.txt",
		Category:  model.CategoryDocument,
	}
	require.NoError(t, s.CreateFile(context.Background(), f))

	return f
}

func TestClaimHashUniquePerTenant(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()
	sha := "abcdef"

	a := newFile(t, s, "t1")
	b := newFile(t, s, "t1")
	other := newFile(t, s, "t2")

	require.NoError(t, s.ClaimHash(ctx, a.ID, sha))

	err := s.ClaimHash(ctx, b.ID, sha)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConsistencyConflict))

	// 不同租户互不影响
	require.NoError(t, s.ClaimHash(ctx, other.ID, sha))

	// 重复声明同一文件是幂等的
	require.NoError(t, s.ClaimHash(ctx, a.ID, sha))

	got, err := s.GetFile(ctx, "t1", a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SHA256)
	assert.Equal(t, sha, *got.SHA256)
	assert.Equal(t, model.ClusterStatePendingDecision, got.ClusterState)
}

func TestFindBySHA256(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	a := newFile(t, s, "t1")
	b := newFile(t, s, "t1")
	require.NoError(t, s.ClaimHash(ctx, a.ID, "h1"))

	hit, err := s.FindBySHA256(ctx, "t1", "h1", b.ID)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, a.ID, hit.ID)

	self, err := s.FindBySHA256(ctx, "t1", "h1", a.ID)
	require.NoError(t, err)
	assert.Nil(t, self)

	miss, err := s.FindBySHA256(ctx, "t2", "h1", b.ID)
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestMarkDuplicate(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	a := newFile(t, s, "t1")
	b := newFile(t, s, "t1")
	require.NoError(t, s.MarkDuplicate(ctx, b.ID, a.ID, "h1"))

	got, err := s.GetFile(ctx, "t1", b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DuplicateOfID)
	assert.Equal(t, a.ID, *got.DuplicateOfID)
	assert.Equal(t, model.ClusterStateDuplicate, got.ClusterState)
	assert.Nil(t, got.SHA256)
	assert.Equal(t, "h1", got.Digest)
}

func TestGetFileTenantScoped(t *testing.T) {
	s := storetest.NewStore(t)
	f := newFile(t, s, "t1")

	_, err := s.GetFile(context.Background(), "t2", f.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCommitJoinVersionCheck(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	a := newFile(t, s, "t1")
	b := newFile(t, s, "t1")
	c := newFile(t, s, "t1")

	cl := &model.Cluster{ID: uuid.NewString(), TenantID: "t1", Category: model.CategoryDocument}
	require.NoError(t, s.CreateSingleton(ctx, cl, a.ID, model.ClusterStateNewCluster))
	assert.Equal(t, int64(1), cl.Version)

	require.NoError(t, s.CommitJoin(ctx, store.JoinCommit{
		ClusterID: cl.ID, ExpectedVersion: 1, FileID: b.ID,
		NewScore: 0.9, NewMemberCount: 2, State: model.ClusterStateJoined,
	}))

	// 过期版本提交失败
	err := s.CommitJoin(ctx, store.JoinCommit{
		ClusterID: cl.ID, ExpectedVersion: 1, FileID: c.ID,
		NewScore: 0.85, NewMemberCount: 3, State: model.ClusterStateJoined,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConsistencyConflict))

	got, err := s.GetCluster(ctx, "t1", cl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 2, got.MemberCount)
	assert.InDelta(t, 0.9, got.IntraSimilarityScore, 1e-9)

	members, err := s.ClusterMembers(ctx, cl.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, members)

	fc, err := s.GetFile(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.Nil(t, fc.ClusterID)
}

func TestCommitJoinRejectsAssignedFile(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	a := newFile(t, s, "t1")
	b := newFile(t, s, "t1")

	x := &model.Cluster{ID: uuid.NewString(), TenantID: "t1", Category: model.CategoryDocument}
	y := &model.Cluster{ID: uuid.NewString(), TenantID: "t1", Category: model.CategoryDocument}
	require.NoError(t, s.CreateSingleton(ctx, x, a.ID, model.ClusterStateNewCluster))
	require.NoError(t, s.CreateSingleton(ctx, y, b.ID, model.ClusterStateNewCluster))

	err := s.CommitJoin(ctx, store.JoinCommit{
		ClusterID: y.ID, ExpectedVersion: 1, FileID: a.ID,
		NewScore: 0.9, NewMemberCount: 2, State: model.ClusterStateJoined,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConsistencyConflict))

	// 事务回滚，y 的版本不变
	got, err := s.GetCluster(ctx, "t1", y.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 1, got.MemberCount)
}

func TestCommitJoinProvisional(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	neighbor := newFile(t, s, "t1")
	f := newFile(t, s, "t1")

	prov := &model.Cluster{
		ID: uuid.NewString(), TenantID: "t1", Category: model.CategoryDocument,
		MemberCount: 1, IntraSimilarityScore: 1.0,
	}
	require.NoError(t, s.CommitJoin(ctx, store.JoinCommit{
		ClusterID: prov.ID, ExpectedVersion: 1, FileID: f.ID,
		NewScore: 0.95, NewMemberCount: 2, State: model.ClusterStateJoined,
		Provisional: prov, NeighborID: neighbor.ID,
	}))

	got, err := s.GetCluster(ctx, "t1", prov.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)
	assert.Equal(t, int64(2), got.Version)

	n, err := s.GetFile(ctx, "t1", neighbor.ID)
	require.NoError(t, err)
	require.NotNil(t, n.ClusterID)
	assert.Equal(t, prov.ID, *n.ClusterID)
}

func TestCommitRemove(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	a := newFile(t, s, "t1")
	b := newFile(t, s, "t1")

	cl := &model.Cluster{ID: uuid.NewString(), TenantID: "t1", Category: model.CategoryDocument}
	require.NoError(t, s.CreateSingleton(ctx, cl, a.ID, model.ClusterStateNewCluster))
	require.NoError(t, s.CommitJoin(ctx, store.JoinCommit{
		ClusterID: cl.ID, ExpectedVersion: 1, FileID: b.ID,
		NewScore: 0.9, NewMemberCount: 2, State: model.ClusterStateJoined,
	}))

	require.NoError(t, s.CommitRemove(ctx, store.RemoveCommit{
		ClusterID: cl.ID, ExpectedVersion: 2, FileID: b.ID, NewScore: 1.0, NewMemberCount: 1,
	}))

	got, err := s.GetCluster(ctx, "t1", cl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MemberCount)
	assert.InDelta(t, 1.0, got.IntraSimilarityScore, 1e-9)

	require.NoError(t, s.CommitRemove(ctx, store.RemoveCommit{
		ClusterID: cl.ID, ExpectedVersion: 3, FileID: a.ID, NewMemberCount: 0,
	}))

	_, err = s.GetCluster(ctx, "t1", cl.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	n, err := s.CountClusters(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteFileCascades(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	a := newFile(t, s, "t1")
	b := newFile(t, s, "t1")
	require.NoError(t, s.MarkDuplicate(ctx, b.ID, a.ID, "h"))
	require.NoError(t, s.DB().Create(&model.Job{
		ID: uuid.NewString(), TenantID: "t1", FileID: a.ID, Status: model.JobStatusCompleted,
	}).Error)

	require.NoError(t, s.DeleteFile(ctx, a.ID))

	_, err := s.GetFile(ctx, "", a.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	var jobs int64
	require.NoError(t, s.DB().Model(&model.Job{}).Where("file_id = ?", a.ID).Count(&jobs).Error)
	assert.Zero(t, jobs)

	got, err := s.GetFile(ctx, "t1", b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DuplicateOfID)

	assert.True(t, errors.Is(s.DeleteFile(ctx, a.ID), errs.ErrNotFound))
}
