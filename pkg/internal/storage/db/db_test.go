package db

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/dedupvault/pkg/configs"
)

func TestWithParamsKeepsExisting(t *testing.T) {
	out := withParams("file:x?mode=memory&_pragma=busy_timeout(100)", map[string]string{
		"_pragma": "busy_timeout(5000)",
		"cache":   "shared",
	})

	base, raw, ok := strings.Cut(out, "?")
	require.True(t, ok)
	assert.Equal(t, "file:x", base)

	q, err := url.ParseQuery(raw)
	require.NoError(t, err)
	assert.Equal(t, "busy_timeout(100)", q.Get("_pragma"))
	assert.Equal(t, "memory", q.Get("mode"))
	assert.Equal(t, "shared", q.Get("cache"))
}

func TestRegisteredDialects(t *testing.T) {
	types := GetRegisteredDBTypes()

	assert.Contains(t, types, configs.SQLite)
	assert.Contains(t, types, configs.Postgres)
	assert.Contains(t, types, configs.MySQL)
	assert.IsIncreasing(t, types)
}

func TestOpenSQLiteClient(t *testing.T) {
	client, err := New(t.Context(), configs.DBConfig{
		Type:     configs.SQLite,
		DSN:      "file:dbtest?mode=memory&cache=shared",
		LogLevel: "silent",
	}, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, "sqlite", client.Dialect())
	assert.False(t, client.SupportsRowLocking())
	require.NoError(t, client.HealthCheck(t.Context()))
}
