package main

import (
	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/database"
	"github.com/blues/spl/internal/escrow"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/monitor"
	"github.com/blues/spl/internal/router"
	"github.com/blues/spl/internal/store"
	"github.com/blues/spl/internal/task"
	"github.com/joho/godotenv"
)

func main() {
	// 本地开发用的环境变量文件，没有也不影响
	_ = godotenv.Load()

	// 加载配置
	cfg := config.Load()

	// 初始化日志
	level := logger.ParseLogLevel(cfg.Log.Level)
	var (
		lg  *logger.Logger
		err error
	)
	if cfg.Log.Output == "file" {
		lg, err = logger.NewWithFileRotation(level, cfg.Log.File)
	} else {
		lg, err = logger.New(level)
	}
	if err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}
	logger.SetDefaultLogger(lg)
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化链客户端。未配置RPC时服务只做链下记账。
	var chainClient *chain.Client
	if cfg.Chain.RpcUrl != "" {
		chainClient, err = chain.NewClient(cfg.Chain)
		if err != nil {
			logger.Fatal("Failed to initialize chain client: %v", err)
		}
	} else {
		logger.Warn("No RPC URL configured, running in off-chain bookkeeping mode")
	}

	// 托管合约网关
	gateway := escrow.NewGateway(chainClient, cfg.Chain)

	// 记录存储（主存储 + 降级存储）
	st, err := store.New(db, cfg.Fallback)
	if err != nil {
		logger.Fatal("Failed to initialize store: %v", err)
	}

	// 链上事件监控，链下模式不启用
	var eventMonitor *monitor.EventMonitor
	if chainClient != nil {
		eventMonitor = monitor.NewEventMonitor(chainClient, gateway, st, cfg.Monitor)
	}

	// 初始化路由
	r := router.Setup(st, chainClient, gateway, eventMonitor, cfg)

	// 启动定时任务
	taskManager := task.Start(st, cfg)
	defer taskManager.Stop()

	if eventMonitor != nil {
		if err := eventMonitor.Start(); err != nil {
			logger.Error("Failed to start event monitor: %v", err)
		} else {
			defer eventMonitor.Stop()
		}
	}

	// 启动服务器
	logger.Info("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
