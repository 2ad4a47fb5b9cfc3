package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/dedupvault/pkg/queue"
)

func TestJobEventEnvelope(t *testing.T) {
	score := 0.91
	payload := queue.JobEventPayload{
		Type:       queue.JobCompleted,
		JobID:      "j1",
		FileID:     "f1",
		TenantID:   "t1",
		Status:     "completed",
		Outcome:    "joined_cluster",
		ClusterID:  "c1",
		Similarity: &score,
		OccurredAt: time.Now().UTC(),
	}

	msg, err := queue.NewWatermillMessage(queue.TopicJobEvents, payload,
		queue.WithTraceID("trace-1"), queue.WithProducer("worker-1"))
	require.NoError(t, err)
	assert.Equal(t, queue.TopicJobEvents, msg.Metadata.Get("topic"))
	assert.Equal(t, "trace-1", msg.Metadata.Get("trace_id"))
	assert.Equal(t, queue.PayloadVersionV1, msg.Metadata.Get("version"))

	env, err := queue.ParseJobEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", env.Header.Producer)
	assert.Equal(t, queue.JobCompleted, env.Payload.Type)
	assert.Equal(t, "c1", env.Payload.ClusterID)
	require.NotNil(t, env.Payload.Similarity)
	assert.InDelta(t, 0.91, *env.Payload.Similarity, 1e-9)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := queue.Decode[queue.JobEventPayload]([]byte("{not json"))
	assert.Error(t, err)
}

func TestTraceContextTravelsInMetadata(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	msg, err := queue.NewWatermillMessage(queue.TopicJobEvents, queue.JobEventPayload{JobID: "j1"}, queue.WithSpan(ctx))
	require.NoError(t, err)
	assert.Equal(t, traceID.String(), msg.Metadata.Get(queue.MetaTraceID))
	assert.NotEmpty(t, msg.Metadata.Get("traceparent"))

	got := trace.SpanContextFromContext(queue.ContextFromMessage(msg))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}
