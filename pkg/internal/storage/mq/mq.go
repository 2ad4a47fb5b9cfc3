// Package mq 提供基于 Watermill 的统一消息发布/订阅客户端，任务事件经由这里扇出.
//
// 支持的 MQ 类型：
//   - NATS（可选 JetStream）
//   - Redis Pub/Sub
//   - memory（进程内 gochannel，单实例或测试）
//
// 使用示例：
//
//	client, err := mq.New(ctx, cfg.MQ, prometheus.NewRegistry())
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	msgs, err := client.Subscribe(ctx, "dv.job.events")
package mq

import (
	"context"
	"fmt"
	"sort"
	"time"

	watermill "github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yeisme/dedupvault/pkg/configs"
	nlog "github.com/yeisme/dedupvault/pkg/log"
)

// HealthTopic 健康检查探测主题.
const HealthTopic = "dv.health"

// Factory 定义创建 Publisher + Subscriber 的工厂函数.
type Factory func(ctx context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error)

var factories = map[configs.MQType]Factory{}

// RegisterFactory 注册指定 MQType 的工厂.
func RegisterFactory(t configs.MQType, f Factory) {
	factories[t] = f
}

// GetRegisteredMQTypes 返回已注册的 MQ 类型.
func GetRegisteredMQTypes() []configs.MQType {
	types := make([]configs.MQType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// Client 封装 watermill Publisher 与 Subscriber.
type Client struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	mqType     configs.MQType
}

// New 按配置初始化消息队列；registerer 非 nil 时为发布与订阅装饰 prometheus 指标.
func New(ctx context.Context, cfg configs.MQConfig, registerer prometheus.Registerer) (*Client, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported mq type: %s", cfg.Type)
	}

	var logger watermill.LoggerAdapter = newWatermillLogger(nlog.Logger(), string(cfg.Type))

	pub, sub, err := factory(ctx, &cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init mq (%s): %w", cfg.Type, err)
	}

	if registerer != nil {
		builder := metrics.NewPrometheusMetricsBuilder(registerer, configs.AppName, "mq")

		if pub, err = builder.DecoratePublisher(pub); err != nil {
			return nil, fmt.Errorf("decorate publisher with metrics: %w", err)
		}

		if sub, err = builder.DecorateSubscriber(sub); err != nil {
			return nil, fmt.Errorf("decorate subscriber with metrics: %w", err)
		}
	}

	nlog.Component("mq").Info().Str("type", string(cfg.Type)).Msg("MQ 客户端已初始化")

	return &Client{publisher: pub, subscriber: sub, mqType: cfg.Type}, nil
}

// NewFromPubSub 使用现成的 Publisher/Subscriber 构造客户端，测试使用.
func NewFromPubSub(pub message.Publisher, sub message.Subscriber) *Client {
	return &Client{publisher: pub, subscriber: sub, mqType: configs.MQTypeMemory}
}

// Type 返回 MQ 类型.
func (c *Client) Type() configs.MQType {
	return c.mqType
}

// Publisher 返回底层 watermill Publisher.
func (c *Client) Publisher() message.Publisher {
	return c.publisher
}

// Publish 便捷发布.
func (c *Client) Publish(_ context.Context, topic string, msgs ...*message.Message) error {
	if c == nil || c.publisher == nil {
		return fmt.Errorf("mq publisher not initialized")
	}

	return c.publisher.Publish(topic, msgs...)
}

// Subscribe 便捷订阅，ctx 取消时通道关闭.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if c == nil || c.subscriber == nil {
		return nil, fmt.Errorf("mq subscriber not initialized")
	}

	return c.subscriber.Subscribe(ctx, topic)
}

// HealthCheck 向探测主题发布一条消息.
func (c *Client) HealthCheck(ctx context.Context) error {
	msg := message.NewMessage(watermill.NewUUID(), []byte(time.Now().UTC().Format(time.RFC3339)))
	msg.SetContext(ctx)

	return c.Publish(ctx, HealthTopic, msg)
}

// Close 关闭资源.
func (c *Client) Close() error {
	var err error

	if c.publisher != nil {
		if e := c.publisher.Close(); e != nil {
			err = e
		}
	}

	if c.subscriber != nil {
		if e := c.subscriber.Close(); e != nil {
			err = e
		}
	}

	return err
}
