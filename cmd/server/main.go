package main

import (
	"flag"
	"log"
	"os"

	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/config"
	"github.com/bidwriter/backend/internal/eventbus"
	"github.com/bidwriter/backend/internal/handler"
	"github.com/bidwriter/backend/internal/pkg/database"
	"github.com/bidwriter/backend/internal/pkg/llm"
	"github.com/bidwriter/backend/internal/repository"
	"github.com/bidwriter/backend/internal/router"
	"github.com/bidwriter/backend/internal/service"
	"github.com/bidwriter/backend/internal/service/checkpoint"
	"github.com/bidwriter/backend/internal/service/orchestrator"
	"github.com/bidwriter/backend/internal/subscriber"
)

func main() {
	// 初始化 klog
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	klog.V(6).Info("服务启动中...")

	cfg := config.GetConfig()

	for _, dir := range []string{cfg.Data.Dir, cfg.Data.UploadDir, cfg.Data.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create data directory %s: %v", dir, err)
		}
	}

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 初始化 Repository
	projectRepo := repository.NewProjectRepository(db)
	runRepo := repository.NewRunRepository(db)
	checkpointRepo := repository.NewCheckpointRepository(db)

	// 初始化事件总线与订阅者
	bus := eventbus.NewRunEventBus()
	subscriber.NewRunEventSubscriber(runRepo).Register(bus)

	// 初始化 Service
	store := checkpoint.NewStore(checkpointRepo)
	provider := llm.NewClient(cfg)
	projectService := service.NewProjectService(cfg, projectRepo, runRepo)
	runService := service.NewRunService(cfg, projectRepo, runRepo, store, provider, bus)

	// 初始化全局运行调度器
	// 并发运行数有限，避免并发过多打爆LLM配额
	if err := orchestrator.InitGlobalOrchestrator(cfg.Workflow.MaxWorkers, runService); err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	runService.SetOrchestrator(orchestrator.GetGlobalOrchestrator())
	defer orchestrator.ShutdownGlobalOrchestrator()

	// 启动时清理卡在执行态的运行
	runService.CleanupStuckRuns()

	// 初始化 Handler
	projectHandler := handler.NewProjectHandler(cfg, projectService)
	runHandler := handler.NewRunHandler(runService)

	// 设置路由
	r := router.Setup(cfg, projectHandler, runHandler)

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
