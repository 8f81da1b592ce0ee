package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"knowledge-assistant/api"
	docs "knowledge-assistant/api/docs"
	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/infra"
	"knowledge-assistant/internal/logger"
	"knowledge-assistant/internal/metrics"
	"knowledge-assistant/internal/rag"
	"knowledge-assistant/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// version 构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

// @title Knowledge Assistant API
// @version 1.0
// @description 基于向量检索的知识库问答服务
// @BasePath /
// @schemes http https
func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	if path := config.LoadEnvFile(); path != "" {
		fmt.Printf("已加载环境变量文件: %s\n", path)
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	docs.SwaggerInfo.BasePath = "/"

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("version", version),
	)
	metrics.RecordBuildInfo(version, runtime.Version())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	// 4. 执行数据库迁移（根据配置）
	if cfg.Database.AutoMigrate {
		if err := rag.AutoMigrate(ctx, db); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	// 5. Redis 只用于向量缓存和任务队列，不可用时退回进程内缓存
	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		rdb, err = infra.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			if cfg.Queue.Enabled {
				logger.Fatal("Redis 不可用，无法启动任务队列", zap.Error(err))
			}
			logger.Warn("Redis 不可用，向量缓存只使用进程内存", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// 6. 组装检索引擎并初始化索引
	services, err := api.BuildServices(ctx, cfg, db, rdb, logger.Get())
	if err != nil {
		logger.Fatal("初始化检索引擎失败", zap.Error(err))
	}
	defer services.Close()

	if err := services.Index.Init(ctx); err != nil {
		logger.Fatal("初始化索引失败", zap.Error(err))
	}

	// 7. 后台统计
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层数据库连接失败", zap.Error(err))
	}
	go metrics.NewStatsCollector(sqlDB, services.Store.CountDocumentsByStatus).Run(ctx)

	// 8. 启用队列时在同一进程内运行 Worker
	var workerServer *worker.Server
	if cfg.Queue.Enabled {
		workerServer = worker.NewServer(cfg.Redis, cfg.Queue, services.Ingestion, services.Index, logger.Named("worker"))
		if err := workerServer.Start(); err != nil {
			logger.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}

	// 9. 创建 HTTP 服务器
	gin.SetMode(cfg.Server.Mode)
	router := api.SetupRouter(cfg, db, services)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	gracefulShutdown(server, workerServer)
}

// gracefulShutdown 优雅关闭
func gracefulShutdown(server *http.Server, workerServer *worker.Server) {
	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// Worker 等待进行中的任务结束
	if workerServer != nil {
		workerServer.Shutdown()
	}

	logger.Info("服务器已安全关闭")
}
