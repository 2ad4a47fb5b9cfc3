//go:build !no_postgres

package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yeisme/dedupvault/pkg/configs"
)

// PostgreSQL 同时承载元数据与 pgvector 索引.
// 经由 pgbouncer 等事务池连接时需要打开 PreferSimpleProtocol.
func postgresDialector(cfg configs.DBConfig) gorm.Dialector {
	return postgres.New(postgres.Config{
		DSN:                  cfg.GetDSN(),
		PreferSimpleProtocol: cfg.PreferSimpleProtocol,
	})
}

func init() {
	for _, t := range []configs.DBType{configs.PostgreSQL, configs.Postgres, configs.Pg} {
		RegisterDialectorFactory(t, postgresDialector)
	}
}
