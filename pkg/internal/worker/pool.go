// Package worker 从任务队列租出任务并交给去重引擎处理.
package worker

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/dedup"
	"github.com/yeisme/dedupvault/pkg/internal/jobqueue"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	nlog "github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/metrics"
	"github.com/yeisme/dedupvault/pkg/tracing"
)

// ackTimeout 写入终态的超时，独立于已取消的任务上下文.
const ackTimeout = 10 * time.Second

// Processor 处理单个文件.
type Processor interface {
	Process(ctx context.Context, fileID string) (*dedup.Result, error)
}

// Notifier 任务状态变化的通知.
type Notifier interface {
	JobChanged(ctx context.Context, job *model.Job)
}

// Pool 固定数量的 worker，共享同一个轮询限速器.
type Pool struct {
	queue      jobqueue.Queue
	proc       Processor
	notifier   Notifier
	cfg        configs.WorkerConfig
	visibility time.Duration
	limiter    *rate.Limiter
	prefix     string
}

// NewPool 创建工作池，notifier 可以为 nil.
func NewPool(q jobqueue.Queue, proc Processor, notifier Notifier, cfg configs.WorkerConfig, qcfg configs.QueueConfig) *Pool {
	prefix := cfg.IDPrefix
	if prefix == "" {
		host, _ := os.Hostname()
		prefix = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	poll := qcfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	count := max(cfg.Count, 1)

	return &Pool{
		queue:      q,
		proc:       proc,
		notifier:   notifier,
		cfg:        cfg,
		visibility: qcfg.VisibilityTimeout,
		limiter:    rate.NewLimiter(rate.Every(poll/time.Duration(count)), count),
		prefix:     prefix,
	}
}

// Run 启动 worker 并阻塞到 ctx 取消；取消后不再租新任务，已租任务处理完再返回.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := range max(p.cfg.Count, 1) {
		id := fmt.Sprintf("%s-w%d", p.prefix, i)

		g.Go(func() error { return p.loop(gctx, id) })
	}

	nlog.Component("worker").Info().Int("count", max(p.cfg.Count, 1)).Str("queue", p.queue.Name()).Msg("worker pool started")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	nlog.Component("worker").Info().Msg("worker pool stopped")

	return err
}

func (p *Pool) loop(ctx context.Context, workerID string) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		// 已租出的任务不随 ctx 取消而中断
		worked, err := p.ProcessNext(context.WithoutCancel(ctx), workerID)
		if err != nil {
			nlog.Component("worker").Error().Err(err).Str("worker", workerID).Msg("lease failed")
		}

		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.IdleBackoff):
		}
	}
}

// ProcessNext 租出并处理一个任务，队列为空时 worked 为 false.
func (p *Pool) ProcessNext(ctx context.Context, workerID string) (worked bool, err error) {
	lease, err := p.queue.Lease(ctx, workerID, p.visibility)
	if err != nil {
		return false, err
	}

	if lease == nil {
		return false, nil
	}

	p.handle(ctx, lease)

	return true, nil
}

func (p *Pool) handle(ctx context.Context, lease *jobqueue.Lease) {
	job := lease.Job
	logger := nlog.WithJob(job.ID, job.FileID, job.TenantID).With().Str("worker", lease.WorkerID).Logger()

	p.notify(ctx, job)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.cfg.JobTimeout > 0 {
		var cancelTimeout context.CancelFunc

		jobCtx, cancelTimeout = context.WithTimeout(jobCtx, p.cfg.JobTimeout)
		defer cancelTimeout()
	}

	jobCtx, span := tracing.StartJobSpan(jobCtx, job.TenantID, job.ID, job.FileID, lease.WorkerID)

	stop := p.keepAlive(jobCtx, cancel, lease)

	start := time.Now()
	res, err := p.run(jobCtx, job.FileID)

	stop()
	tracing.EndSpan(span, err)

	ackCtx, cancelAck := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancelAck()

	ack := ackResult(res, err)

	done, ackErr := p.queue.Ack(ackCtx, lease, ack)
	if ackErr != nil {
		if errors.Is(ackErr, errs.ErrLeaseLost) {
			logger.Warn().Err(ackErr).Msg("lease lost before ack, result discarded")
		} else {
			logger.Error().Err(ackErr).Msg("ack failed")
		}

		return
	}

	metrics.JobsProcessed.WithLabelValues(string(ack.Status), string(ack.Outcome)).Inc()

	ev := logger.Info()
	if err != nil {
		ev = logger.Warn().Err(err).Bool("retryable", ack.Retryable)
	}

	ev.Str("status", string(ack.Status)).Str("outcome", string(ack.Outcome)).
		Dur("elapsed", time.Since(start)).Msg("job finished")

	p.notify(ackCtx, done)
}

// run 把 panic 转成错误.
func (p *Pool) run(ctx context.Context, fileID string) (res *dedup.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	return p.proc.Process(ctx, fileID)
}

// keepAlive 每隔半个可见性超时续约一次，租约丢失时取消任务.
func (p *Pool) keepAlive(ctx context.Context, cancel context.CancelFunc, lease *jobqueue.Lease) (stop func()) {
	interval := p.visibility / 2
	if interval <= 0 {
		return func() {}
	}

	quit := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := p.queue.Extend(ctx, lease, p.visibility)
				if err == nil {
					continue
				}

				if errors.Is(err, errs.ErrLeaseLost) {
					nlog.Component("worker").Warn().Str("job_id", lease.Job.ID).Msg("lease lost, cancelling job")
					cancel()

					return
				}

				nlog.Component("worker").Warn().Err(err).Str("job_id", lease.Job.ID).Msg("extend lease failed")
			}
		}
	}()

	return func() {
		close(quit)
		<-finished
	}
}

func (p *Pool) notify(ctx context.Context, job *model.Job) {
	if p.notifier != nil && job != nil {
		p.notifier.JobChanged(ctx, job)
	}
}

func ackResult(res *dedup.Result, err error) jobqueue.AckResult {
	if err == nil && res == nil {
		err = errors.New("processor returned no result")
	}

	if err != nil {
		return jobqueue.AckResult{
			Status:       model.JobStatusFailed,
			ErrorMessage: err.Error(),
			ErrorCode:    errs.Kind(err),
			Retryable:    errs.Retryable(err),
		}
	}

	return jobqueue.AckResult{
		Status:            model.JobStatusCompleted,
		Outcome:           res.Outcome,
		DuplicateOfFileID: res.DuplicateOf,
		ClusterID:         res.ClusterID,
		SimilarityScore:   res.Similarity,
		ClusterScore:      res.ClusterScore,
	}
}
