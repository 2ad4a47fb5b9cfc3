package service

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/cluster"
	"github.com/yeisme/dedupvault/pkg/internal/storage/s3"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/types"
	"github.com/yeisme/dedupvault/pkg/internal/vectorindex"
	nlog "github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/queue"
)

// FileService 文件与簇的查询和租户发起的硬删除.
type FileService struct {
	store    *store.Store
	clusters *cluster.Manager
	index    vectorindex.Index
	objects  s3.Store
	notifier Notifier
}

// NewFileService 创建文件服务.
func NewFileService(st *store.Store, clusters *cluster.Manager, index vectorindex.Index, objects s3.Store,
	notifier Notifier,
) *FileService {
	return &FileService{store: st, clusters: clusters, index: index, objects: objects, notifier: notifier}
}

// Get 读取文件.
func (s *FileService) Get(ctx context.Context, tenant, fileID string) (*types.FileResponse, error) {
	f, err := s.store.GetFile(ctx, tenant, fileID)
	if err != nil {
		return nil, err
	}

	resp := types.NewFileResponse(f)

	return &resp, nil
}

// Delete 硬删除文件：先移出簇并重算分数，再删除索引条目、记录与对象.
func (s *FileService) Delete(ctx context.Context, tenant, fileID string) error {
	f, err := s.store.GetFile(ctx, tenant, fileID)
	if err != nil {
		return err
	}

	clusterID := ""
	if f.ClusterID != nil {
		clusterID = *f.ClusterID

		if err := s.clusters.Remove(ctx, tenant, fileID); err != nil {
			return errors.Wrap(err, "remove from cluster")
		}
	}

	if err := s.index.Delete(ctx, fileID); err != nil {
		return err
	}

	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}

	// 元数据已删除，对象删除失败只记录
	if err := s.objects.Remove(ctx, f.ObjectKey); err != nil {
		nlog.Logger().Warn().Err(err).Str("file_id", fileID).Str("object_key", f.ObjectKey).
			Msg("failed to remove object of deleted file")
	}

	if s.notifier != nil {
		s.notifier.FileDeleted(ctx, queue.FileDeletedPayload{
			FileID:    fileID,
			TenantID:  f.TenantID,
			ObjectKey: f.ObjectKey,
			ClusterID: clusterID,
		})
	}

	nlog.Logger().Info().Str("file_id", fileID).Str("tenant", f.TenantID).Str("cluster_id", clusterID).Msg("file deleted")

	return nil
}

// Cluster 读取簇与成员.
func (s *FileService) Cluster(ctx context.Context, tenant, clusterID string) (*types.ClusterResponse, error) {
	if clusterID == "" {
		return nil, errs.Validation("cluster id is required")
	}

	view, err := s.clusters.Get(ctx, tenant, clusterID)
	if err != nil {
		return nil, err
	}

	resp := types.NewClusterResponse(view.Cluster, view.Members)

	return &resp, nil
}
