package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"knowledge-assistant/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DocumentQueue 异步入库队列
type DocumentQueue interface {
	EnqueueIngestDocument(ctx context.Context, documentID string) error
}

// IngestResult 入库结果
type IngestResult struct {
	DocumentID string        `json:"documentId"`
	Chunks     int           `json:"chunks"`
	IndexSize  int           `json:"indexSize"`
	Rebuilt    bool          `json:"rebuilt"`
	Duration   time.Duration `json:"-"`
}

// IngestionService 文档入库: 分块、向量化、整体替换分块、触发索引重建
type IngestionService struct {
	docs            DocumentStore
	chunks          ChunkStore
	index           *IndexManager
	chunker         *Chunker
	embedder        Embedder
	queue           DocumentQueue
	rebuildOnIngest bool
	logger          *zap.Logger
}

// NewIngestionService 创建入库服务。queue 为 nil 时 EnqueueDocument 同步执行。
func NewIngestionService(
	docs DocumentStore,
	chunks ChunkStore,
	index *IndexManager,
	chunker *Chunker,
	embedder Embedder,
	queue DocumentQueue,
	rebuildOnIngest bool,
	logger *zap.Logger,
) *IngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &IngestionService{
		docs:            docs,
		chunks:          chunks,
		index:           index,
		chunker:         chunker,
		embedder:        embedder,
		queue:           queue,
		rebuildOnIngest: rebuildOnIngest,
		logger:          logger,
	}
}

// IngestDocument 入库文档，替换该文档的全部分块。对同一文档 ID 幂等。
func (s *IngestionService) IngestDocument(ctx context.Context, doc *Document) (result *IngestResult, err error) {
	if doc == nil {
		return nil, newError(KindEmptyInput, "ingest.document", errors.New("文档不能为空"))
	}

	ctx, span := tracer.Start(ctx, "rag.ingest.document")
	defer span.End()

	start := time.Now()
	defer func() {
		chunks := 0
		if result != nil {
			chunks = result.Chunks
		}
		metrics.RecordIngestion(err, chunks)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := s.resolveIdentity(ctx, doc); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("rag.document_id", doc.ID))

	// 向量化在任何写操作之前完成，维度错误不会留下半成品
	rows, err := s.prepareChunks(ctx, doc)
	if err != nil {
		return nil, err
	}

	// 文档行与分块同一事务写入，失败时只在旧记录上标记状态
	err = s.index.WithStoreLock(func() error {
		return s.chunks.ReplaceDocument(ctx, doc, rows)
	})
	if err != nil {
		s.markFailed(ctx, doc.ID, err)
		return nil, newError(KindStoreFailure, "ingest.store", err)
	}

	result = &IngestResult{DocumentID: doc.ID, Chunks: len(rows)}
	if s.rebuildOnIngest {
		if _, err := s.index.Rebuild(ctx); err != nil {
			s.logger.Error("入库后重建索引失败", zap.String("document_id", doc.ID), zap.Error(err))
		} else {
			result.Rebuilt = true
		}
	}
	result.IndexSize = s.index.Size()
	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("rag.chunks", len(rows)))

	s.logger.Info("文档入库完成",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(rows)),
		zap.Int("index_size", result.IndexSize),
		zap.Duration("elapsed", result.Duration),
	)
	return result, nil
}

// resolveIdentity 按 ID 或外部 ID 找到已有文档，否则分配新 ID
func (s *IngestionService) resolveIdentity(ctx context.Context, doc *Document) error {
	var existing *Document
	var err error
	switch {
	case doc.ID != "":
		existing, err = s.docs.GetDocument(ctx, doc.ID)
	case doc.ExternalID != "":
		existing, err = s.docs.FindDocumentByExternalID(ctx, doc.ExternalID)
	}
	if err != nil && !errors.Is(err, ErrDocumentNotFound) {
		return newError(KindStoreFailure, "ingest.lookup", err)
	}

	if existing != nil {
		doc.ID = existing.ID
		doc.CreatedAt = existing.CreatedAt
		return nil
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	} else if _, err := uuid.Parse(doc.ID); err != nil {
		return newError(KindEmptyInput, "ingest.lookup", fmt.Errorf("文档 ID 不是合法的 UUID: %s", doc.ID))
	}
	return nil
}

// prepareChunks 分块并批量向量化，校验每个向量的维度
func (s *IngestionService) prepareChunks(ctx context.Context, doc *Document) ([]DocumentChunk, error) {
	pieces := s.chunker.Split(doc.Content)
	if len(pieces) == 0 {
		return nil, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}

	var vectors [][]float32
	err := metrics.RecordModelCall("embedding", s.embedder.Model(), func(call *metrics.ModelCall) error {
		var embedErr error
		vectors, embedErr = s.embedder.EmbedBatch(ctx, texts)
		for _, p := range pieces {
			call.PromptTokens += p.TokenCount
		}
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("向量化失败: %w", err)
	}
	if len(vectors) != len(pieces) {
		return nil, fmt.Errorf("向量化结果数量 %d 与分块数量 %d 不一致", len(vectors), len(pieces))
	}

	dim := s.index.Dimension()
	if err := checkDimensions(vectors, dim); err != nil {
		return nil, newError(KindDimensionMismatch, "ingest.embed", err)
	}

	rows := make([]DocumentChunk, len(pieces))
	for i, p := range pieces {
		rows[i] = DocumentChunk{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			ChunkIndex:  p.ChunkIndex,
			Content:     p.Content,
			ContentHash: p.ContentHash,
			TokenCount:  p.TokenCount,
			Embedding:   Vector(vectors[i]),
			Dimension:   len(vectors[i]),
		}
	}
	return rows, nil
}

// EnqueueDocument 保存为待处理并投递异步任务；没有队列时直接入库
func (s *IngestionService) EnqueueDocument(ctx context.Context, doc *Document) (*IngestResult, error) {
	if s.queue == nil {
		return s.IngestDocument(ctx, doc)
	}
	if doc == nil {
		return nil, newError(KindEmptyInput, "ingest.enqueue", errors.New("文档不能为空"))
	}
	if err := s.resolveIdentity(ctx, doc); err != nil {
		return nil, err
	}

	doc.Status = DocumentStatusPending
	err := s.index.WithStoreLock(func() error {
		return s.docs.SaveDocument(ctx, doc)
	})
	if err != nil {
		return nil, newError(KindStoreFailure, "ingest.enqueue", err)
	}
	if err := s.queue.EnqueueIngestDocument(ctx, doc.ID); err != nil {
		s.markFailed(ctx, doc.ID, err)
		return nil, fmt.Errorf("投递入库任务失败: %w", err)
	}
	return &IngestResult{DocumentID: doc.ID, IndexSize: s.index.Size()}, nil
}

// ProcessDocument 处理已保存的文档，供异步任务调用
func (s *IngestionService) ProcessDocument(ctx context.Context, documentID string) (*IngestResult, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	err = s.index.WithStoreLock(func() error {
		return s.docs.UpdateDocumentStatus(ctx, doc.ID, DocumentStatusProcessing, "")
	})
	if err != nil {
		return nil, newError(KindStoreFailure, "ingest.process", err)
	}
	return s.IngestDocument(ctx, doc)
}

// DeleteDocument 删除文档及其分块
func (s *IngestionService) DeleteDocument(ctx context.Context, documentID string) error {
	err := s.index.WithStoreLock(func() error {
		return s.docs.DeleteDocument(ctx, documentID)
	})
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return err
		}
		return newError(KindStoreFailure, "ingest.delete", err)
	}

	if s.rebuildOnIngest {
		if _, err := s.index.Rebuild(ctx); err != nil {
			s.logger.Error("删除后重建索引失败", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	return nil
}

func (s *IngestionService) markFailed(ctx context.Context, documentID string, cause error) {
	msg := []rune(cause.Error())
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	if err := s.docs.UpdateDocumentStatus(ctx, documentID, DocumentStatusFailed, strings.TrimSpace(string(msg))); err != nil {
		s.logger.Warn("更新文档状态失败", zap.String("document_id", documentID), zap.Error(err))
	}
}
