// Package storetest 为测试提供隔离的内存 SQLite 元数据库.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	dbc "github.com/yeisme/dedupvault/pkg/internal/storage/db"
	"github.com/yeisme/dedupvault/pkg/internal/store"
)

var seq atomic.Int64

// NewDB 打开一个按测试隔离的内存库并完成迁移，测试结束时关闭.
func NewDB(t testing.TB, extra ...any) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:storetest_%d?mode=memory&cache=shared", seq.Add(1))

	client, err := dbc.Open(dbc.SQLiteDialector(dsn), "silent")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := client.DB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}

	// 单连接，事务与普通查询串行执行
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := store.Migrate(t.Context(), client.DB, extra...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return client.DB
}

// NewStore 返回基于 NewDB 的仓储.
func NewStore(t testing.TB) *store.Store {
	t.Helper()

	return store.New(NewDB(t))
}
