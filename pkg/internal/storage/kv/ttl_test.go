package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLEnvelope(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	session := []byte(`{"upload_id":"u1"}`)

	assert.Equal(t, session, wrapTTL(session, 0, now), "no ttl keeps the raw value")

	enc := wrapTTL(session, time.Minute, now)
	assert.Len(t, enc, ttlHeaderLen+len(session))

	val, expired := unwrapTTL(enc, now.Add(59*time.Second))
	assert.False(t, expired)
	assert.Equal(t, session, val)

	_, expired = unwrapTTL(enc, now.Add(time.Minute))
	assert.True(t, expired)

	// 未包装的短值
	val, expired = unwrapTTL([]byte("DV"), now)
	assert.False(t, expired)
	assert.Equal(t, []byte("DV"), val)
}
