package kv_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/storage/kv"
)

// backends 返回可用的实现，redis 与 nats 需要通过环境变量显式开启.
func backends(t testing.TB) map[string]kv.KVStore {
	t.Helper()

	ctx := context.Background()
	out := map[string]kv.KVStore{}

	mem, err := kv.NewKVStore(ctx, kv.KVTypeMemory, configs.KVConfig{})
	require.NoError(t, err)

	out["memory"] = mem

	if addr := os.Getenv("DV_TEST_REDIS_ADDR"); addr != "" {
		cfg := configs.KVConfig{Type: string(kv.KVTypeRedis), Redis: configs.RedisConfig{Addr: addr, KeyPrefix: "dv-test"}}
		if s, err := kv.NewKVStore(ctx, kv.KVTypeRedis, cfg); err == nil {
			out["redis"] = s
		}
	}

	if url := os.Getenv("DV_TEST_NATS_URL"); url != "" {
		cfg := configs.KVConfig{Type: string(kv.KVTypeNATS), NATS: configs.NATSKVConfig{URL: url, Bucket: "dv-test-sessions"}}
		if s, err := kv.NewKVStore(ctx, kv.KVTypeNATS, cfg); err == nil {
			out["nats"] = s
		}
	}

	for _, s := range out {
		t.Cleanup(func() { _ = s.Close() })
	}

	return out
}

// 上传会话依赖的语义：不存在返回 ErrKeyNotFound，删除幂等，按前缀匹配分片键.
func TestKVSessionSemantics(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			prefix := fmt.Sprintf("upload-%d", time.Now().UnixNano())

			_, err := store.Get(ctx, prefix+".missing")
			assert.True(t, errors.Is(err, kv.ErrKeyNotFound))

			require.NoError(t, store.Set(ctx, prefix+".s1", []byte(`{"upload_id":"s1"}`), time.Hour))
			require.NoError(t, store.Set(ctx, prefix+".s1.part.1", []byte(`{"part_number":1}`), time.Hour))
			require.NoError(t, store.Set(ctx, prefix+".s2", []byte(`{"upload_id":"s2"}`), 0))

			got, err := store.Get(ctx, prefix+".s1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"upload_id":"s1"}`, string(got))

			ok, err := store.Exists(ctx, prefix+".s2")
			require.NoError(t, err)
			assert.True(t, ok)

			keys, err := store.Keys(ctx, prefix+".s1*")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{prefix + ".s1", prefix + ".s1.part.1"}, keys)

			require.NoError(t, store.Delete(ctx, prefix+".s1"))
			require.NoError(t, store.Delete(ctx, prefix+".s1"))

			ok, err = store.Exists(ctx, prefix+".s1")
			require.NoError(t, err)
			assert.False(t, ok)

			for _, k := range []string{prefix + ".s1.part.1", prefix + ".s2"} {
				require.NoError(t, store.Delete(ctx, k))
			}
		})
	}
}

func BenchmarkKVSessionRoundTrip(b *testing.B) {
	session := []byte(`{"upload_id":"01J0000000000000000000000","tenant_id":"acme","filename":"report.pdf",` +
		`"category":"document","object_key":"uploads/acme/01J-report.pdf","s3_upload_id":"abc"}`)

	for name, store := range backends(b) {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()
			b.ReportAllocs()

			for i := 0; b.Loop(); i++ {
				key := fmt.Sprintf("bench-upload-%d", i)
				if err := store.Set(ctx, key, session, time.Minute); err != nil {
					b.Fatalf("set failed: %v", err)
				}

				if _, err := store.Get(ctx, key); err != nil {
					b.Fatalf("get failed: %v", err)
				}

				if err := store.Delete(ctx, key); err != nil {
					b.Fatalf("delete failed: %v", err)
				}
			}
		})
	}
}
