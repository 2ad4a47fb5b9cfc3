package mq_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/storage/mq"
)

func newMemoryClient(t *testing.T, reg prometheus.Registerer) *mq.Client {
	t.Helper()

	cfg := configs.Default().MQ
	cfg.Type = configs.MQTypeMemory

	client, err := mq.New(context.Background(), cfg, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestMemoryPublishSubscribe(t *testing.T) {
	client := newMemoryClient(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := client.Subscribe(ctx, "dv.test")
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "dv.test", message.NewMessage(watermill.NewUUID(), []byte("hello"))))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMetricsDecoration(t *testing.T) {
	reg := prometheus.NewRegistry()
	client := newMemoryClient(t, reg)

	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.Equal(t, configs.MQTypeMemory, client.Type())
}

func TestUnsupportedType(t *testing.T) {
	cfg := configs.Default().MQ
	cfg.Type = "kafka"

	_, err := mq.New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRegisteredTypes(t *testing.T) {
	types := mq.GetRegisteredMQTypes()
	assert.Contains(t, types, configs.MQTypeMemory)
	assert.Contains(t, types, configs.MQTypeNATS)
	assert.Contains(t, types, configs.MQTypeRedis)
}
