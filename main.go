// @title LLM 评测后端 API
// @version 1.0
// @description 标准问答管理、众包答案收集、数据集版本与大模型回答评测。

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"flag"
	"llm_eval_backend/internal/app"
	"llm_eval_backend/internal/config"
	"log"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	workerOnly := flag.Bool("worker", false, "只运行评测队列 worker")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 设置迁移标志
	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly
	cfg.WorkerOnly = *workerOnly

	application := app.NewApp(cfg, *configDir)

	// 迁移完成后直接退出
	if *migrateOnly {
		log.Println("数据库迁移完成，退出程序")
		return
	}

	if cfg.WorkerOnly {
		application.RunWorker()
		return
	}
	application.Run()
}
