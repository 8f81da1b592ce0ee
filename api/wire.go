package api

import (
	"context"
	"fmt"
	"time"

	"knowledge-assistant/internal/ai/openai"
	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/infra/queue"
	"knowledge-assistant/internal/rag"
	"knowledge-assistant/internal/rag/parsers"
	"knowledge-assistant/pkg/aiinterface"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 检索引擎的全部组件，HTTP 服务、Worker 和命令行工具共用
type Services struct {
	Store       *rag.GormStore
	Index       *rag.IndexManager
	Embedder    rag.Embedder
	Retriever   *rag.Retriever
	Synthesizer *rag.Synthesizer
	QA          *rag.QAService
	Ingestion   *rag.IngestionService
	Queue       queue.Client // queue.enabled=false 时为 nil
	Registry    *parsers.Registry
	ChatClient  aiinterface.ChatClient // 未配置 API Key 时为 nil
}

// BuildServices 按配置组装检索引擎。rdb 为 nil 时向量缓存只用进程内存。
func BuildServices(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient, logger *zap.Logger) (*Services, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("配置和数据库连接不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store := rag.NewGormStore(db)

	embedder := buildEmbedder(cfg, rdb, logger)

	chunker := rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if counter, err := rag.NewTiktokenCounter(cfg.RAG.TokenizerModel); err != nil {
		logger.Warn("加载分词器失败，使用估算的 token 数", zap.String("model", cfg.RAG.TokenizerModel), zap.Error(err))
	} else {
		chunker = chunker.WithTokenCounter(counter)
	}

	index := rag.NewIndexManager(store, rag.IndexManagerConfig{
		Dimension:           cfg.Embedding.Dimension,
		ArtifactPath:        cfg.RAG.IndexPath,
		LoadArtifactOnStart: cfg.RAG.LoadArtifactOnStart,
		RebuildOnStart:      cfg.RAG.RebuildOnStart,
		BatchSize:           cfg.RAG.RebuildBatchSize,
	}, logger.Named("index"))

	chatClient, generator, err := buildGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	retriever := rag.NewRetriever(index, embedder, store, cfg.RAG.TopK, cfg.RAG.RelevanceThreshold, logger.Named("retriever"))
	synth := rag.NewSynthesizer(generator, cfg.AI.OpenAI.Timeout(), logger.Named("synthesizer"))

	var queueClient queue.Client
	var docQueue rag.DocumentQueue
	if cfg.Queue.Enabled {
		queueClient = queue.NewClient(cfg.Redis)
		docQueue = queueClient
	}

	ingestion := rag.NewIngestionService(store, store, index, chunker, embedder, docQueue, cfg.RAG.RebuildOnIngest, logger.Named("ingestion"))
	qa := rag.NewQAService(retriever, synth, store, logger.Named("qa"))

	logger.Info("检索引擎组件已就绪",
		zap.String("embedding_model", embedder.Model()),
		zap.Int("dimension", embedder.Dimension()),
		zap.Bool("generator", generator != nil),
		zap.Bool("queue", queueClient != nil),
		zap.Bool("redis_cache", rdb != nil),
	)

	return &Services{
		Store:       store,
		Index:       index,
		Embedder:    embedder,
		Retriever:   retriever,
		Synthesizer: synth,
		QA:          qa,
		Ingestion:   ingestion,
		Queue:       queueClient,
		Registry:    parsers.NewRegistry(),
		ChatClient:  chatClient,
	}, nil
}

// Close 释放队列、模型客户端与索引
func (s *Services) Close() error {
	var firstErr error
	if s.Queue != nil {
		if err := s.Queue.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ChatClient != nil {
		if err := s.ChatClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Index != nil {
		if err := s.Index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildEmbedder(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) rag.Embedder {
	base := rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	cache := rag.NewEmbeddingCache(rdb, cfg.Embedding.CachePrefix, cfg.Embedding.CacheTTLDuration())
	return rag.NewCachedEmbedder(base, cache, logger.Named("embedding"))
}

// buildGenerator 未配置 API Key 时返回 nil Generator，问答退回最相关分块
func buildGenerator(cfg *config.Config, logger *zap.Logger) (aiinterface.ChatClient, rag.Generator, error) {
	oc := cfg.AI.OpenAI
	if !oc.Configured() {
		logger.Warn("未配置 OpenAI API Key，问答将直接返回最相关的文本片段")
		return nil, nil, nil
	}
	client, err := openai.NewClient(&aiinterface.ClientConfig{
		APIKey:     oc.APIKey,
		BaseURL:    oc.BaseURL,
		Model:      oc.ChatModel,
		OrgID:      oc.OrgID,
		MaxRetries: oc.MaxRetries,
		Timeout:    oc.TimeoutSeconds,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("创建 OpenAI 客户端失败: %w", err)
	}
	return client, rag.NewChatGenerator(client, oc.Temperature, oc.MaxTokens), nil
}
