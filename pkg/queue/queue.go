// Package queue 定义任务事件的消息信封.
//
// 每条消息是 Message[Payload] = Header + Payload 的 JSON，watermill 元数据里冗余一份头部字段，
// 并携带 W3C traceparent，订阅方用 ContextFromMessage 接上发布方的链路.
//
//	{
//	  "header": {"topic": "dv.job.events", "producer": "dedupvault", "occurred_at": "...", "version": "v1"},
//	  "payload": {"type": "job_completed", "job_id": "...", "status": "completed"}
//	}
//
// 推送是尽力而为的，客户端应通过 GET /jobs/{id} 对账.
package queue

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// PayloadVersionV1 当前负载版本，消费方应忽略未知字段.
const PayloadVersionV1 = "v1"

// 元数据键.
const (
	MetaTopic      = "topic"
	MetaTraceID    = "trace_id"
	MetaProducer   = "producer"
	MetaOccurredAt = "occurred_at"
	MetaVersion    = "version"
)

// Option 修改事件头.
type Option func(*EventHeader)

// WithTraceID 直接指定 TraceID.
func WithTraceID(id string) Option { return func(h *EventHeader) { h.TraceID = id } }

// WithProducer 设置生产者标识.
func WithProducer(p string) Option { return func(h *EventHeader) { h.Producer = p } }

// WithSpan 从 ctx 取出当前 span，写入 TraceID 与传播头.
func WithSpan(ctx context.Context) Option {
	return func(h *EventHeader) {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			h.TraceID = sc.TraceID().String()
		}

		h.carrier = propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, h.carrier)
	}
}

// NewEventHeader 创建事件头，OccurredAt 为当前 UTC 时间.
func NewEventHeader(topic string, opts ...Option) EventHeader {
	h := EventHeader{
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Version:    PayloadVersionV1,
	}

	for _, opt := range opts {
		opt(&h)
	}

	return h
}

// Encode 编码信封.
func Encode[T any](msg Message[T]) ([]byte, error) { return sonic.Marshal(msg) }

// Decode 解码信封.
func Decode[T any](b []byte) (Message[T], error) {
	var m Message[T]

	err := sonic.Unmarshal(b, &m)

	return m, err
}

// NewWatermillMessage 构造带元数据的 watermill 消息.
func NewWatermillMessage[T any](topic string, payload T, opts ...Option) (*message.Message, error) {
	header := NewEventHeader(topic, opts...)

	data, err := Encode(Message[T]{Header: header, Payload: payload})
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(watermill.NewUUID(), data)

	for k, v := range header.carrier {
		msg.Metadata.Set(k, v)
	}

	msg.Metadata.Set(MetaTopic, topic)
	msg.Metadata.Set(MetaOccurredAt, header.OccurredAt.Format(time.RFC3339Nano))
	msg.Metadata.Set(MetaVersion, header.Version)

	if header.TraceID != "" {
		msg.Metadata.Set(MetaTraceID, header.TraceID)
	}

	if header.Producer != "" {
		msg.Metadata.Set(MetaProducer, header.Producer)
	}

	return msg, nil
}

// ParseWatermillMessage 解出泛型负载.
func ParseWatermillMessage[T any](msg *message.Message) (Message[T], error) {
	return Decode[T](msg.Payload)
}

// ContextFromMessage 从元数据恢复发布方的链路上下文.
func ContextFromMessage(msg *message.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))
}
