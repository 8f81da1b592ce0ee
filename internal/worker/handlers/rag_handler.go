package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"knowledge-assistant/internal/rag"
	"knowledge-assistant/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// DocumentProcessor 处理已保存的文档
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID string) (*rag.IngestResult, error)
}

// IndexRebuilder 全量重建索引
type IndexRebuilder interface {
	Rebuild(ctx context.Context) (*rag.IndexSnapshot, error)
}

type RAGHandler struct {
	processor DocumentProcessor
	index     IndexRebuilder
	logger    *zap.Logger
}

func NewRAGHandler(processor DocumentProcessor, index IndexRebuilder, logger *zap.Logger) *RAGHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGHandler{
		processor: processor,
		index:     index,
		logger:    logger,
	}
}

// HandleIngestDocument 处理文档入库任务。载荷错误、文档不存在、维度错误不重试。
func (h *RAGHandler) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var p tasks.IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("解析任务载荷失败: %v: %w", err, asynq.SkipRetry)
	}
	if p.DocumentID == "" {
		return fmt.Errorf("任务缺少 document_id: %w", asynq.SkipRetry)
	}

	h.logger.Info("开始处理文档任务", zap.String("document_id", p.DocumentID))

	res, err := h.processor.ProcessDocument(ctx, p.DocumentID)
	if err != nil {
		h.logger.Error("文档处理失败", zap.String("document_id", p.DocumentID), zap.Error(err))
		if errors.Is(err, rag.ErrDocumentNotFound) ||
			rag.IsKind(err, rag.KindDimensionMismatch) ||
			rag.IsKind(err, rag.KindEmptyInput) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	h.logger.Info("文档处理完成",
		zap.String("document_id", p.DocumentID),
		zap.Int("chunks", res.Chunks),
		zap.Int("index_size", res.IndexSize),
	)
	return nil
}

// HandleRebuildIndex 处理索引重建任务
func (h *RAGHandler) HandleRebuildIndex(ctx context.Context, t *asynq.Task) error {
	var p tasks.RebuildIndexPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("解析任务载荷失败: %v: %w", err, asynq.SkipRetry)
		}
	}

	snap, err := h.index.Rebuild(ctx)
	if err != nil {
		if errors.Is(err, rag.ErrIndexClosed) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	h.logger.Info("索引重建任务完成",
		zap.String("reason", p.Reason),
		zap.Uint64("generation", snap.Generation),
		zap.Int("vectors", snap.Index.Size()),
	)
	return nil
}
