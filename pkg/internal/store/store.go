// Package store 是元数据库仓储，文件、簇的读写与成员变更的乐观并发提交都在这里.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/model"
)

// Store 元数据库仓储.
type Store struct {
	db *gorm.DB
}

// New 创建仓储.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层连接.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate 迁移元数据表，extra 用于附加表（如 pgvector 索引表）.
func Migrate(ctx context.Context, db *gorm.DB, extra ...any) error {
	models := append(model.All(), extra...)
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return errors.Wrap(err, "auto migrate")
	}

	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound(format, args...)
	}

	return errors.Wrapf(err, format, args...)
}

// CreateFile 插入文件记录.
func (s *Store) CreateFile(ctx context.Context, f *model.File) error {
	if f.ClusterState == "" {
		f.ClusterState = model.ClusterStateUnassigned
	}

	return errors.Wrap(s.db.WithContext(ctx).Create(f).Error, "create file")
}

// GetFile 按 ID 读取文件，tenant 非空时校验租户.
func (s *Store) GetFile(ctx context.Context, tenant, id string) (*model.File, error) {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if tenant != "" {
		q = q.Where("tenant_id = ?", tenant)
	}

	var f model.File
	if err := q.Take(&f).Error; err != nil {
		return nil, notFound(err, "file %s", id)
	}

	return &f, nil
}

// FindBySHA256 查找租户内持有该哈希的规范文件，exclude 为自身 ID.
func (s *Store) FindBySHA256(ctx context.Context, tenant, sha, exclude string) (*model.File, error) {
	var f model.File

	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND sha256 = ? AND id <> ?", tenant, sha, exclude).
		Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil //nolint:nilnil // 未命中不是错误
	}

	if err != nil {
		return nil, errors.Wrap(err, "find by sha256")
	}

	return &f, nil
}

// ClaimHash 在文件上设置规范哈希并进入 pending_decision；唯一约束冲突返回 ConsistencyConflict.
func (s *Store) ClaimHash(ctx context.Context, id, sha string) error {
	res := s.db.WithContext(ctx).Model(&model.File{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sha256":        sha,
			"digest":        sha,
			"cluster_state": gormStateIfUnassigned(),
		})
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return errs.ConsistencyConflict(res.Error, "sha256 %s already claimed", sha)
	}

	if res.Error != nil {
		return errors.Wrap(res.Error, "claim hash")
	}

	if res.RowsAffected == 0 {
		return errs.NotFound("file %s", id)
	}

	return nil
}

// gormStateIfUnassigned 只把 unassigned 推进为 pending_decision，已分配的文件保持原状态.
func gormStateIfUnassigned() clause.Expr {
	return gorm.Expr("CASE WHEN cluster_state = ? THEN ? ELSE cluster_state END",
		model.ClusterStateUnassigned, model.ClusterStatePendingDecision)
}

// MarkDuplicate 记录精确重复关系.
func (s *Store) MarkDuplicate(ctx context.Context, id, duplicateOf, sha string) error {
	res := s.db.WithContext(ctx).Model(&model.File{}).
		Where("id = ? AND cluster_id IS NULL", id).
		Updates(map[string]any{
			"duplicate_of_id": duplicateOf,
			"digest":          sha,
			"cluster_state":   model.ClusterStateDuplicate,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "mark duplicate")
	}

	if res.RowsAffected == 0 {
		return errs.Conflict("file %s already assigned to a cluster", id)
	}

	return nil
}

// DeleteFile 硬删除文件记录及其任务.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", id).Delete(&model.Job{}).Error; err != nil {
			return errors.Wrap(err, "delete jobs")
		}

		// 指向它的精确重复文件失去规范文件，清空引用
		if err := tx.Model(&model.File{}).Where("duplicate_of_id = ?", id).
			Update("duplicate_of_id", nil).Error; err != nil {
			return errors.Wrap(err, "detach duplicates")
		}

		res := tx.Where("id = ?", id).Delete(&model.File{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete file")
		}

		if res.RowsAffected == 0 {
			return errs.NotFound("file %s", id)
		}

		return nil
	})
}

// GetCluster 读取簇.
func (s *Store) GetCluster(ctx context.Context, tenant, id string) (*model.Cluster, error) {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if tenant != "" {
		q = q.Where("tenant_id = ?", tenant)
	}

	var c model.Cluster
	if err := q.Take(&c).Error; err != nil {
		return nil, notFound(err, "cluster %s", id)
	}

	return &c, nil
}

// ClusterMembers 返回簇内文件 ID，按创建时间排序.
func (s *Store) ClusterMembers(ctx context.Context, clusterID string) ([]string, error) {
	var ids []string

	err := s.db.WithContext(ctx).Model(&model.File{}).
		Where("cluster_id = ?", clusterID).
		Order("created_at, id").
		Pluck("id", &ids).Error

	return ids, errors.Wrap(err, "cluster members")
}

// CreateSingleton 新建只含 file 的簇并回写文件，file 已有簇时返回 ConsistencyConflict.
func (s *Store) CreateSingleton(ctx context.Context, c *model.Cluster, fileID string, state model.ClusterState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.MemberCount = 1
		c.IntraSimilarityScore = 1.0
		c.Version = 1

		if err := tx.Create(c).Error; err != nil {
			return errors.Wrap(err, "create cluster")
		}

		return attachFile(tx, fileID, c.ID, state)
	})
}

// JoinCommit 描述一次入簇提交.
type JoinCommit struct {
	ClusterID       string
	ExpectedVersion int64
	FileID          string
	NewScore        float64
	NewMemberCount  int
	State           model.ClusterState
	// Provisional 非空时，为近邻新建的临时簇，与入簇在同一事务内创建
	Provisional *model.Cluster
	// NeighborID 临时簇的另一名成员
	NeighborID string
}

// CommitJoin 在版本未变时更新簇分数并把文件挂到簇上，版本变化或文件已有簇返回 ConsistencyConflict.
func (s *Store) CommitJoin(ctx context.Context, j JoinCommit) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if j.Provisional != nil {
			j.Provisional.Version = j.ExpectedVersion
			if err := tx.Create(j.Provisional).Error; err != nil {
				return errors.Wrap(err, "create provisional cluster")
			}

			if err := attachFile(tx, j.NeighborID, j.Provisional.ID, model.ClusterStateNewCluster); err != nil {
				return err
			}
		}

		res := tx.Model(&model.Cluster{}).
			Where("id = ? AND version = ?", j.ClusterID, j.ExpectedVersion).
			Updates(map[string]any{
				"intra_similarity_score": j.NewScore,
				"member_count":           j.NewMemberCount,
				"version":                gorm.Expr("version + 1"),
				"updated_at":             time.Now().UTC(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "update cluster")
		}

		if res.RowsAffected == 0 {
			return errs.ConsistencyConflict(nil, "cluster %s changed since version %d", j.ClusterID, j.ExpectedVersion)
		}

		return attachFile(tx, j.FileID, j.ClusterID, j.State)
	})
}

func attachFile(tx *gorm.DB, fileID, clusterID string, state model.ClusterState) error {
	res := tx.Model(&model.File{}).
		Where("id = ? AND cluster_id IS NULL", fileID).
		Updates(map[string]any{"cluster_id": clusterID, "cluster_state": state})
	if res.Error != nil {
		return errors.Wrap(res.Error, "attach file")
	}

	if res.RowsAffected == 0 {
		return errs.ConsistencyConflict(nil, "file %s already belongs to a cluster", fileID)
	}

	return nil
}

// RemoveCommit 描述一次成员移除提交.
type RemoveCommit struct {
	ClusterID       string
	ExpectedVersion int64
	FileID          string
	NewScore        float64
	NewMemberCount  int
}

// CommitRemove 在版本未变时把文件移出簇并更新分数，最后一名成员移除时删除簇.
func (s *Store) CommitRemove(ctx context.Context, r RemoveCommit) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.File{}).
			Where("id = ? AND cluster_id = ?", r.FileID, r.ClusterID).
			Updates(map[string]any{"cluster_id": nil, "cluster_state": model.ClusterStateUnassigned}).Error; err != nil {
			return errors.Wrap(err, "detach file")
		}

		var res *gorm.DB
		if r.NewMemberCount == 0 {
			res = tx.Where("id = ? AND version = ?", r.ClusterID, r.ExpectedVersion).Delete(&model.Cluster{})
		} else {
			res = tx.Model(&model.Cluster{}).
				Where("id = ? AND version = ?", r.ClusterID, r.ExpectedVersion).
				Updates(map[string]any{
					"intra_similarity_score": r.NewScore,
					"member_count":           r.NewMemberCount,
					"version":                gorm.Expr("version + 1"),
					"updated_at":             time.Now().UTC(),
				})
		}

		if res.Error != nil {
			return errors.Wrap(res.Error, "update cluster")
		}

		if res.RowsAffected == 0 {
			return errs.ConsistencyConflict(nil, "cluster %s changed since version %d", r.ClusterID, r.ExpectedVersion)
		}

		return nil
	})
}

// CountClusters 统计租户簇数量.
func (s *Store) CountClusters(ctx context.Context, tenant string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Cluster{}).Where("tenant_id = ?", tenant).Count(&n).Error

	return n, errors.Wrap(err, "count clusters")
}
