package main

import (
	"context"
	"flag"
	"log"
	"stem_progress_backend/internal/app"
	"stem_progress_backend/internal/config"
	"stem_progress_backend/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件目录")
	migrateOnly := flag.Bool("migrate-only", false, "只初始化持久化后端（database 后端执行迁移），完成后退出")
	flag.Parse()

	// .env 不存在时忽略
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.MigrateOnly = *migrateOnly

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if cfg.MigrateOnly {
		application.Close(context.Background())
		log.Printf("Storage backend %q initialized, exiting", cfg.Store.Backend)
		return
	}

	application.Run()
}
