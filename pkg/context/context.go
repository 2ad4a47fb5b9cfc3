// Package context 在请求上下文中携带存储、调度器与租户，并据此派生带请求字段的 logger.
package context

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/dedupvault/pkg/internal/storage"
	dbc "github.com/yeisme/dedupvault/pkg/internal/storage/db"
	kvc "github.com/yeisme/dedupvault/pkg/internal/storage/kv"
	mqc "github.com/yeisme/dedupvault/pkg/internal/storage/mq"
	s3c "github.com/yeisme/dedupvault/pkg/internal/storage/s3"
	"github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/scheduler"
)

type key int

const (
	managerKey key = iota
	schedulerKey
	tenantKey
)

// WithStorageManager 将 Manager 存储到 context 中.
func WithStorageManager(ctx context.Context, mgr *storage.Manager) context.Context {
	return context.WithValue(ctx, managerKey, mgr)
}

// GetManager 从 context 中获取 Manager.
func GetManager(ctx context.Context) *storage.Manager {
	mgr, _ := ctx.Value(managerKey).(*storage.Manager)
	return mgr
}

// component 从 Manager 中取出一项存储，Manager 缺失时返回零值.
func component[T any](ctx context.Context, pick func(*storage.Manager) T) T {
	var zero T
	if mgr := GetManager(ctx); mgr != nil {
		return pick(mgr)
	}

	return zero
}

// GetS3Client 从 context 中获取对象存储.
func GetS3Client(ctx context.Context) s3c.Store {
	return component(ctx, func(m *storage.Manager) s3c.Store { return m.S3 })
}

// GetDBClient 从 context 中获取 DB 客户端.
func GetDBClient(ctx context.Context) *dbc.Client {
	return component(ctx, func(m *storage.Manager) *dbc.Client { return m.DB })
}

// GetMQClient 从 context 中获取 MQ 客户端.
func GetMQClient(ctx context.Context) *mqc.Client {
	return component(ctx, func(m *storage.Manager) *mqc.Client { return m.MQ })
}

// GetKVClient 从 context 中获取 KV 客户端.
func GetKVClient(ctx context.Context) *kvc.Client {
	return component(ctx, func(m *storage.Manager) *kvc.Client { return m.KV })
}

// WithScheduler 记录定时任务调度器.
func WithScheduler(ctx context.Context, sched *scheduler.Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey, sched)
}

// GetScheduler 返回调度器，未注入时为 nil.
func GetScheduler(ctx context.Context) *scheduler.Scheduler {
	sched, _ := ctx.Value(schedulerKey).(*scheduler.Scheduler)
	return sched
}

// WithTenant 记录当前请求所属租户.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// Tenant 返回当前租户，未设置时为空串.
func Tenant(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey).(string)
	return t
}

// Logger 返回带租户与追踪 ID 的子 logger.
func Logger(ctx context.Context) *zerolog.Logger {
	lc := log.Logger().With()

	if t := Tenant(ctx); t != "" {
		lc = lc.Str("tenant", t)
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		lc = lc.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}

	l := lc.Logger()

	return &l
}
