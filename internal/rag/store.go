package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrDocumentNotFound 文档不存在
var ErrDocumentNotFound = errors.New("文档不存在")

// ChunkStore 分块存储，检索引擎只依赖这几项能力
type ChunkStore interface {
	// IterateChunks 按存储顺序分批遍历全部分块
	IterateChunks(ctx context.Context, batchSize int, fn func(batch []DocumentChunk) error) error
	// GetChunksByIDs 按 ID 取分块内容，不存在的 ID 不出现在结果中
	GetChunksByIDs(ctx context.Context, ids []string) (map[string]*DocumentChunk, error)
	// ReplaceDocument 在一个事务内保存文档、删除旧分块并写入新分块
	ReplaceDocument(ctx context.Context, doc *Document, chunks []DocumentChunk) error
	CountChunks(ctx context.Context) (int64, error)
}

// DocumentStore 文档存储
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	FindDocumentByExternalID(ctx context.Context, externalID string) (*Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]Document, int64, error)
	ListTitles(ctx context.Context) ([]string, error)
	UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error
	DeleteDocument(ctx context.Context, id string) error
}

// GormStore 基于 gorm 的文档与分块存储
type GormStore struct {
	db              *gorm.DB
	insertBatchSize int
}

// NewGormStore 创建存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, insertBatchSize: 10}
}

// DB 返回底层连接
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// chunkRow 遍历时按原始字节读取向量，单个损坏的向量不影响整页
type chunkRow struct {
	ID          string
	DocumentID  string
	ChunkIndex  int
	Content     string
	ContentHash string
	TokenCount  int
	Embedding   []byte
	Dimension   int
	CreatedAt   time.Time
}

func (r *chunkRow) toChunk() DocumentChunk {
	chunk := DocumentChunk{
		ID:          r.ID,
		DocumentID:  r.DocumentID,
		ChunkIndex:  r.ChunkIndex,
		Content:     r.Content,
		ContentHash: r.ContentHash,
		TokenCount:  r.TokenCount,
		Dimension:   r.Dimension,
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Embedding) > 0 {
		vec, err := DecodeVector(r.Embedding)
		if err != nil {
			chunk.EmbeddingErr = err
		} else {
			chunk.Embedding = vec
		}
	}
	return chunk
}

// IterateChunks 按创建顺序分页遍历。无法解码的向量记在 EmbeddingErr 上，由调用方跳过
func (s *GormStore) IterateChunks(ctx context.Context, batchSize int, fn func(batch []DocumentChunk) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	offset := 0
	for {
		var rows []chunkRow
		if err := s.db.WithContext(ctx).
			Model(&DocumentChunk{}).
			Order("created_at ASC").
			Order("document_id ASC").
			Order("chunk_index ASC").
			Limit(batchSize).
			Offset(offset).
			Find(&rows).Error; err != nil {
			return fmt.Errorf("查询分块失败: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		batch := make([]DocumentChunk, len(rows))
		for i := range rows {
			batch[i] = rows[i].toChunk()
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(rows) < batchSize {
			return nil
		}
		offset += len(rows)
	}
}

// GetChunksByIDs 批量查询分块内容（不加载向量）
func (s *GormStore) GetChunksByIDs(ctx context.Context, ids []string) (map[string]*DocumentChunk, error) {
	result := make(map[string]*DocumentChunk, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var chunks []DocumentChunk
	if err := s.db.WithContext(ctx).
		Select("id", "document_id", "chunk_index", "content").
		Where("id IN ?", ids).
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("查询分块失败: %w", err)
	}
	for i := range chunks {
		result[chunks[i].ID] = &chunks[i]
	}
	return result, nil
}

// ReplaceDocument 保存文档新版本并整体替换分块，任一步失败时文档行与旧分块都保持原样。
// 成功后 doc 的状态、分块数与时间戳同步为落库值。
func (s *GormStore) ReplaceDocument(ctx context.Context, doc *Document, chunks []DocumentChunk) error {
	now := time.Now()
	row := *doc
	row.Status = DocumentStatusIndexed
	row.ChunkCount = len(chunks)
	row.ErrorMessage = ""
	row.IndexedAt = &now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("保存文档失败: %w", err)
		}
		if err := tx.Where("document_id = ?", row.ID).Delete(&DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("删除旧分块失败: %w", err)
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, s.insertBatchSize).Error; err != nil {
				return fmt.Errorf("写入分块失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	*doc = row
	return nil
}

// CountChunks 分块总数
func (s *GormStore) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&DocumentChunk{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计分块失败: %w", err)
	}
	return count, nil
}

// SaveDocument 新建或更新文档
func (s *GormStore) SaveDocument(ctx context.Context, doc *Document) error {
	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("保存文档失败: %w", err)
	}
	return nil
}

// GetDocument 按 ID 查询文档
func (s *GormStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// FindDocumentByExternalID 按外部 ID 查询文档
func (s *GormStore) FindDocumentByExternalID(ctx context.Context, externalID string) (*Document, error) {
	var doc Document
	if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// ListDocuments 分页列出文档（不含正文）
func (s *GormStore) ListDocuments(ctx context.Context, offset, limit int) ([]Document, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Document{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计文档失败: %w", err)
	}

	var docs []Document
	if err := s.db.WithContext(ctx).
		Omit("content").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&docs).Error; err != nil {
		return nil, 0, fmt.Errorf("查询文档列表失败: %w", err)
	}
	return docs, total, nil
}

// ListTitles 全部文档标题，按创建顺序
func (s *GormStore) ListTitles(ctx context.Context) ([]string, error) {
	var titles []string
	if err := s.db.WithContext(ctx).
		Model(&Document{}).
		Order("created_at ASC").
		Pluck("title", &titles).Error; err != nil {
		return nil, fmt.Errorf("查询文档标题失败: %w", err)
	}
	return titles, nil
}

// UpdateDocumentStatus 更新文档处理状态
func (s *GormStore) UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error {
	return s.db.WithContext(ctx).
		Model(&Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
		}).Error
}

// DeleteDocument 删除文档及其分块
func (s *GormStore) DeleteDocument(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("删除分块失败: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&Document{})
		if res.Error != nil {
			return fmt.Errorf("删除文档失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrDocumentNotFound
		}
		return nil
	})
}

// CountDocumentsByStatus 按处理状态统计文档数
func (s *GormStore) CountDocumentsByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&Document{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("统计文档状态失败: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
