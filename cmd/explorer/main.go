// 命令行入口：无界面的选区浏览器，加载边界与人口数据后执行搜索、下钻与提交分析
package main

import (
	"os"

	"urbaninfra/internal/config"
	"urbaninfra/internal/logger"
)

func main() {
	config.LoadDotenv()
	logger.Setup()
	if err := newRootCmd(config.Load()).Execute(); err != nil {
		os.Exit(1)
	}
}
