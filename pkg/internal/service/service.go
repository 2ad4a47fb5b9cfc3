// Package service 实现上传协调、任务查询与文件管理的业务逻辑，handler 只做参数绑定与响应.
package service

import (
	"context"

	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/queue"
)

// Notifier 任务与文件事件的发布者，notify.Publisher 满足该接口.
type Notifier interface {
	JobChanged(ctx context.Context, job *model.Job)
	FileDeleted(ctx context.Context, payload queue.FileDeletedPayload)
}
