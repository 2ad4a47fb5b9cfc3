//go:build !no_mysql

package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/yeisme/dedupvault/pkg/configs"
)

// mysqlIndexedStringSize utf8mb4 下单列索引 767 字节的上限.
const mysqlIndexedStringSize = 191

func mysqlDialector(cfg configs.DBConfig) gorm.Dialector {
	return mysql.New(mysql.Config{
		DSN:               cfg.GetDSN(),
		DefaultStringSize: mysqlIndexedStringSize,
		// MariaDB 10.5 之前不支持 RENAME COLUMN
		DontSupportRenameColumn: cfg.Type == configs.MariaDB,
	})
}

func init() {
	RegisterDialectorFactory(configs.MySQL, mysqlDialector)
	RegisterDialectorFactory(configs.MariaDB, mysqlDialector)
}
