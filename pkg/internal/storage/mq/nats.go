package mq

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/yeisme/dedupvault/pkg/configs"
)

const (
	natsDrainTimeout   = 30 * time.Second
	natsFlusherTimeout = 10 * time.Second
	natsCloseTimeout   = 15 * time.Second
	// natsAckWait 订阅方处理一条任务事件的最长时间，超过后 JetStream 会重投.
	natsAckWait = 30 * time.Second
)

func init() {
	RegisterFactory(configs.MQTypeNATS, natsFactory)
}

// natsFactory 发布与订阅各持有一条连接.
// 任务事件要广播给每个实例的 websocket hub，所以订阅不使用队列组.
func natsFactory(_ context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	url := natsURL(cfg)
	opts := natsOptions(cfg, logger)
	js := jetStreamConfig(cfg.NATS)
	marshaler := &wmnats.JSONMarshaler{}

	if !js.Disabled {
		logger.Info("nats jetstream enabled", watermill.LogFields{
			"auto_provision": js.AutoProvision,
			"durable_prefix": js.DurablePrefix,
		})
	}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: opts,
		Marshaler:   marshaler,
		JetStream:   js,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              url,
		NatsOptions:      opts,
		Unmarshaler:      marshaler,
		JetStream:        js,
		SubscribersCount: 1,
		CloseTimeout:     natsCloseTimeout,
		AckWaitTimeout:   natsAckWait,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, err
	}

	return pub, sub, nil
}

func natsURL(cfg *configs.MQConfig) string {
	if len(cfg.NATS.ClusterURLs) > 0 {
		return strings.Join(cfg.NATS.ClusterURLs, ",")
	}

	return cfg.Common.URL
}

func natsOptions(cfg *configs.MQConfig, logger watermill.LoggerAdapter) []nats.Option {
	c := cfg.Common
	opts := []nats.Option{
		nats.Name(c.ClientID),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(time.Duration(c.ReconnectWait) * time.Second),
		nats.PingInterval(time.Duration(c.PingInterval) * time.Second),
		nats.MaxPingsOutstanding(c.MaxPingsOut),
		nats.ReconnectBufSize(c.BufferSize),
		nats.DrainTimeout(natsDrainTimeout),
		nats.FlusherTimeout(natsFlusherTimeout),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			logger.Error("nats disconnected", err, watermill.LogFields{"name": conn.Opts.Name})
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", watermill.LogFields{"url": conn.ConnectedUrlRedacted()})
		}),
	}

	switch {
	case cfg.NATS.JWT != "":
		opts = append(opts, nats.UserJWTAndSeed(cfg.NATS.JWT, cfg.NATS.NKey))
	case c.User != "":
		opts = append(opts, nats.UserInfo(c.User, c.Password))
	}

	return opts
}

func jetStreamConfig(n configs.MQNATSConfig) wmnats.JetStreamConfig {
	if !n.JetStreamEnabled {
		return wmnats.JetStreamConfig{Disabled: true}
	}

	return wmnats.JetStreamConfig{
		AutoProvision: n.JetStreamAutoProvision,
		TrackMsgId:    n.JetStreamTrackMsgID,
		AckAsync:      n.JetStreamAckAsync,
		DurablePrefix: n.JetStreamDurablePrefix,
	}
}
