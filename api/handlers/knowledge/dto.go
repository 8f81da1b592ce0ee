package knowledge

import (
	"time"

	"knowledge-assistant/internal/rag"
)

// CreateDocumentRequest JSON 方式提交文档
type CreateDocumentRequest struct {
	ID         string                 `json:"id,omitempty"`
	ExternalID string                 `json:"external_id,omitempty"`
	Title      string                 `json:"title" binding:"required"`
	Content    string                 `json:"content"`
	MimeType   string                 `json:"mime_type,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentResponse 文档信息（不含正文）
type DocumentResponse struct {
	ID           string                 `json:"id"`
	ExternalID   string                 `json:"external_id,omitempty"`
	Title        string                 `json:"title"`
	MimeType     string                 `json:"mime_type"`
	Status       string                 `json:"status"`
	ChunkCount   int                    `json:"chunk_count"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IndexedAt    *time.Time             `json:"indexed_at,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// IngestResponse 入库结果
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Chunks     int    `json:"chunks"`
	IndexSize  int    `json:"index_size"`
}

func toDocumentResponse(doc *rag.Document) DocumentResponse {
	return DocumentResponse{
		ID:           doc.ID,
		ExternalID:   doc.ExternalID,
		Title:        doc.Title,
		MimeType:     doc.MimeType,
		Status:       doc.Status,
		ChunkCount:   doc.ChunkCount,
		ErrorMessage: doc.ErrorMessage,
		Metadata:     doc.Metadata,
		IndexedAt:    doc.IndexedAt,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func toIngestResponse(doc *rag.Document, res *rag.IngestResult) IngestResponse {
	return IngestResponse{
		DocumentID: res.DocumentID,
		Status:     doc.Status,
		Chunks:     res.Chunks,
		IndexSize:  res.IndexSize,
	}
}
