package worker

import (
	"context"

	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/infra/queue"
	"knowledge-assistant/internal/worker/handlers"
	"knowledge-assistant/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建异步任务服务器，只消费 rag 队列
func NewServer(
	redisCfg config.RedisConfig,
	queueCfg config.QueueConfig,
	processor handlers.DocumentProcessor,
	index handlers.IndexRebuilder,
	logger *zap.Logger,
) *Server {
	concurrency := queueCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	srv := asynq.NewServer(
		queue.RedisConnOpt(redisCfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueRAG: 1,
			},
			Logger: newAsynqLogger(logger),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Int("retried", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)

	return &Server{
		server: srv,
		mux:    NewMux(processor, index, logger),
		logger: logger,
	}
}

// NewMux 注册任务处理器
func NewMux(processor handlers.DocumentProcessor, index handlers.IndexRebuilder, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	ragHandler := handlers.NewRAGHandler(processor, index, logger)
	mux.HandleFunc(tasks.TypeIngestDocument, ragHandler.HandleIngestDocument)
	mux.HandleFunc(tasks.TypeRebuildIndex, ragHandler.HandleRebuildIndex)
	return mux
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}

// asynqLogger 把 asynq 日志转到 zap
type asynqLogger struct {
	sugar *zap.SugaredLogger
}

func newAsynqLogger(logger *zap.Logger) *asynqLogger {
	return &asynqLogger{sugar: logger.Named("asynq").Sugar()}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.sugar.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.sugar.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.sugar.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.sugar.Fatal(args...) }
