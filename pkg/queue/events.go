package queue

import "github.com/ThreeDotsLabs/watermill/message"

// PublishJobEvent 发布 dv.job.events 事件.
func PublishJobEvent(pub message.Publisher, payload JobEventPayload, opts ...Option) error {
	msg, err := NewWatermillMessage(TopicJobEvents, payload, opts...)
	if err != nil {
		return err
	}

	return pub.Publish(TopicJobEvents, msg)
}

// ParseJobEvent 将 Watermill 消息解析为强类型 Envelope.
func ParseJobEvent(msg *message.Message) (Message[JobEventPayload], error) {
	return ParseWatermillMessage[JobEventPayload](msg)
}

// PublishFileDeleted 发布 dv.file.deleted 事件.
func PublishFileDeleted(pub message.Publisher, payload FileDeletedPayload, opts ...Option) error {
	msg, err := NewWatermillMessage(TopicFileDeleted, payload, opts...)
	if err != nil {
		return err
	}

	return pub.Publish(TopicFileDeleted, msg)
}

// ParseFileDeleted 解析文件删除事件.
func ParseFileDeleted(msg *message.Message) (Message[FileDeletedPayload], error) {
	return ParseWatermillMessage[FileDeletedPayload](msg)
}
