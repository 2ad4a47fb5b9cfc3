package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/storage/rdb"
)

// redisChannelBuffer 每个订阅的输出缓冲.
const redisChannelBuffer = 100

// RedisPublisher 基于 Redis Pub/Sub 的 Publisher，只传递 payload，任务事件的元数据都在 JSON 内.
// 频道名带上配置的键前缀，多个部署可以共用一个 Redis.
type RedisPublisher struct {
	client *redis.Client
	cfg    configs.RedisConfig
}

// RedisSubscriber 基于 Redis Pub/Sub 的 Subscriber.
type RedisSubscriber struct {
	client  *redis.Client
	cfg     configs.RedisConfig
	subs    []*redis.PubSub
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
	logger  watermill.LoggerAdapter
}

func init() {
	RegisterFactory(configs.MQTypeRedis, redisFactory)
}

// redisFactory 创建 Redis Publisher & Subscriber，二者各自持有连接.
func redisFactory(
	ctx context.Context,
	cfg *configs.MQConfig,
	logger watermill.LoggerAdapter) (
	message.Publisher, message.Subscriber, error) {
	pubClient, err := rdb.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}

	subClient, err := rdb.New(ctx, cfg.Redis)
	if err != nil {
		_ = pubClient.Close()
		return nil, nil, err
	}

	pub := &RedisPublisher{client: pubClient, cfg: cfg.Redis}
	sub := &RedisSubscriber{
		client:  subClient,
		cfg:     cfg.Redis,
		closeCh: make(chan struct{}),
		logger:  logger,
	}

	return pub, sub, nil
}

// Publish 实现 Publisher 接口.
func (p *RedisPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		ctx := msg.Context()
		if err := p.client.Publish(ctx, p.cfg.Key(topic), []byte(msg.Payload)).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", topic, err)
		}
	}

	return nil
}

// Close 实现 Publisher 接口.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Subscribe 实现 Subscriber 接口，每次调用建立独立的 PubSub 连接.
func (s *RedisSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("subscriber closed")
	}

	ps := s.client.Subscribe(ctx, s.cfg.Key(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	s.subs = append(s.subs, ps)

	out := make(chan *message.Message, redisChannelBuffer)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(out)

		in := ps.Channel()

		for {
			select {
			case <-s.closeCh:
				return
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}

				wm := message.NewMessage(watermill.NewUUID(), []byte(m.Payload))
				wm.SetContext(ctx)

				select {
				case out <- wm:
				case <-s.closeCh:
					return
				case <-ctx.Done():
					return
				}

				// 等待消费方确认，保持与其他实现一致的背压
				select {
				case <-wm.Acked():
				case <-wm.Nacked():
					s.logger.Debug("redis message nacked", watermill.LogFields{"topic": topic})
				case <-s.closeCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close 实现 Subscriber 接口.
func (s *RedisSubscriber) Close() error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	close(s.closeCh)

	var err error

	for _, ps := range s.subs {
		if e := ps.Close(); e != nil {
			err = e
		}
	}

	s.mu.Unlock()
	s.wg.Wait()

	if e := s.client.Close(); e != nil {
		err = e
	}

	return err
}
