// kactl 知识库运维工具: 重建索引、导入文件、命令行提问、查看生效配置
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"knowledge-assistant/api"
	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/infra"
	"knowledge-assistant/internal/logger"
	"knowledge-assistant/internal/rag"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const usage = `用法: kactl [-env dev] [-config path] <命令> [参数]

命令:
  reindex                  从存储全量重建向量索引并写入索引文件
  ingest [-title T] <文件>  解析并导入一个文件（txt/md/pdf/html）
  ask [-k N] <问题>         检索并回答问题，同时打印来源
  config                   以 YAML 打印生效配置（不含密钥）
`

func main() {
	env := flag.String("env", envOr("APP_ENV", "dev"), "配置环境 dev/prod/test")
	configPath := flag.String("config", "", "配置文件路径，优先于 -env")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config.LoadEnvFile()
	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "config" {
		if err := printConfig(os.Stdout, cfg); err != nil {
			log.Fatalf("输出配置失败: %v", err)
		}
		return
	}

	if err := logger.Init(cfg.Log.Level, "console", "stderr"); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	defer cleanup()

	if err := a.run(ctx, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "kactl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// newApp 连接数据库和可选的 Redis，组装检索引擎。命令行工具总是同步入库。
func newApp(ctx context.Context, cfg *config.Config) (*app, func(), error) {
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	if err := rag.AutoMigrate(ctx, db); err != nil {
		_ = infra.CloseDatabase()
		return nil, nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		if rdb, err = infra.InitRedis(ctx, &cfg.Redis); err != nil {
			logger.Warn("Redis 不可用，向量缓存只使用进程内存", zap.Error(err))
			rdb = nil
		}
	}

	local := *cfg
	local.Queue.Enabled = false
	services, err := api.BuildServices(ctx, &local, db, rdb, logger.Get())
	if err != nil {
		_ = infra.CloseDatabase()
		return nil, nil, err
	}

	cleanup := func() {
		_ = services.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = infra.CloseDatabase()
	}
	return &app{cfg: &local, services: services, out: os.Stdout}, cleanup, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
