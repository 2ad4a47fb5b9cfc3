package service

import (
	"context"

	"github.com/yeisme/dedupvault/pkg/internal/jobqueue"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/types"
)

// JobService 任务状态查询与手动重试.
type JobService struct {
	queue    jobqueue.Queue
	notifier Notifier
}

// NewJobService 创建任务服务.
func NewJobService(q jobqueue.Queue, notifier Notifier) *JobService {
	return &JobService{queue: q, notifier: notifier}
}

// Get 读取任务.
func (s *JobService) Get(ctx context.Context, tenant, jobID string) (*types.JobResponse, error) {
	job, err := s.queue.Get(ctx, tenant, jobID)
	if err != nil {
		return nil, err
	}

	resp := types.NewJobResponse(job)

	return &resp, nil
}

// List 分页列出租户的任务.
func (s *JobService) List(ctx context.Context, tenant string, q *types.ListJobsQuery) (*types.ListJobsResponse, error) {
	if err := validate(q); err != nil {
		return nil, err
	}

	f := jobqueue.ListFilter{TenantID: tenant, Status: model.JobStatus(q.Status), Limit: q.Limit, Offset: q.Offset}

	jobs, total, err := s.queue.List(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]types.JobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, types.NewJobResponse(&jobs[i]))
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = jobqueue.DefaultListLimit
	case limit > jobqueue.MaxListLimit:
		limit = jobqueue.MaxListLimit
	}

	return &types.ListJobsResponse{Jobs: out, Total: total, Limit: limit, Offset: q.Offset}, nil
}

// Retry 把失败任务重新置为 pending.
func (s *JobService) Retry(ctx context.Context, tenant, jobID string) (*types.JobResponse, error) {
	job, err := s.queue.Retry(ctx, tenant, jobID)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.JobChanged(ctx, job)
	}

	resp := types.NewJobResponse(job)

	return &resp, nil
}

// Delete 删除任务记录，处理中的任务不能删除.
func (s *JobService) Delete(ctx context.Context, tenant, jobID string) error {
	return s.queue.Delete(ctx, tenant, jobID)
}
