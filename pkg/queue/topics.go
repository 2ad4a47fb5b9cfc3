package queue

// 主题命名规范：dv.<域>.<动作>，尽量稳定且向后兼容.

const (
	// TopicJobEvents 任务状态事件（job_status_update / job_completed / job_failed）.
	TopicJobEvents = "dv.job.events"
	// TopicFileDeleted 文件被租户删除，下游可据此清理衍生数据.
	TopicFileDeleted = "dv.file.deleted"
)

// Topics 返回全部已定义的主题.
func Topics() []string {
	return []string{TopicJobEvents, TopicFileDeleted}
}
