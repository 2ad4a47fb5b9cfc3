//go:build !no_sqlite && !cgo

package db

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yeisme/dedupvault/pkg/configs"
)

// modernc.org/sqlite 通过 _pragma 设置连接参数.
var sqliteParams = map[string]string{
	"_pragma": "busy_timeout(5000)",
}

// SQLiteDialector 打开 SQLite，测试直接用它打开内存库.
func SQLiteDialector(dsn string) gorm.Dialector {
	return sqlite.Open(withParams(dsn, sqliteParams))
}

func init() {
	RegisterDialectorFactory(configs.SQLite, func(cfg configs.DBConfig) gorm.Dialector {
		return SQLiteDialector(cfg.GetDSN())
	})
}
