// Package main 启动应用程序
package main

import (
	"fmt"
	"os"

	"github.com/yeisme/dedupvault/pkg/cmd"
)

//	@title			DedupVault API
//	@version		1.0
//	@description	DedupVault 是一个多租户文件去重服务，提供分片上传、精确与近似去重、聚类查询和任务状态推送。

//	@license.name	MIT
//	@license.url	https://opensource.org/license/mit/

//	@contact.name	yeisme
//	@contact.email	yefun2004@gmail.com.

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
