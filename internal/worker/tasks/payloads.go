package tasks

// 任务类型
const (
	TypeIngestDocument = "rag:ingest_document"
	TypeRebuildIndex   = "rag:rebuild_index"
)

// QueueRAG 检索引擎任务队列
const QueueRAG = "rag"

// IngestDocumentPayload 文档入库任务载荷
type IngestDocumentPayload struct {
	DocumentID string `json:"document_id"`
}

// RebuildIndexPayload 索引重建任务载荷
type RebuildIndexPayload struct {
	Reason string `json:"reason,omitempty"`
}
