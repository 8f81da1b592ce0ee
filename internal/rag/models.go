package rag

import (
	"context"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// 文档状态
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusIndexed    = "indexed"
	DocumentStatusFailed     = "failed"
)

// Document 知识库中的一篇文档
type Document struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	ExternalID string `json:"externalId,omitempty" gorm:"size:255;index"` // 外部来源 ID（如网盘文件 ID）
	OwnerID    string `json:"ownerId,omitempty" gorm:"size:100;index"`

	Title    string            `json:"title" gorm:"size:500"`
	Content  string            `json:"content,omitempty" gorm:"type:text"`
	MimeType string            `json:"mimeType" gorm:"size:100"`
	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	Status       string     `json:"status" gorm:"size:50;not null;default:pending"`
	ChunkCount   int        `json:"chunkCount" gorm:"default:0"`
	ErrorMessage string     `json:"errorMessage,omitempty" gorm:"type:text"`
	IndexedAt    *time.Time `json:"indexedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// DocumentChunk 文档分块及其向量，随文档重新入库整体替换
type DocumentChunk struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid"`
	DocumentID  string `json:"documentId" gorm:"type:uuid;not null;uniqueIndex:idx_chunk_doc_index"`
	ChunkIndex  int    `json:"chunkIndex" gorm:"not null;uniqueIndex:idx_chunk_doc_index"`
	Content     string `json:"content" gorm:"type:text;not null"`
	ContentHash string `json:"contentHash" gorm:"size:64"`
	TokenCount  int    `json:"tokenCount" gorm:"default:0"`

	Embedding Vector `json:"-"`
	Dimension int    `json:"dimension" gorm:"not null;default:0"`

	// EmbeddingErr 遍历时向量字节无法解码的原因，不落库
	EmbeddingErr error `json:"-" gorm:"-"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// Vector 定长 float32 向量，按小端 4 字节序列落库
type Vector []float32

// Value 实现 driver.Valuer
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return EncodeVector(v), nil
}

// Scan 实现 sql.Scanner
func (v *Vector) Scan(src interface{}) error {
	switch data := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		vec, err := DecodeVector(data)
		if err != nil {
			return err
		}
		*v = vec
		return nil
	case string:
		vec, err := DecodeVector([]byte(data))
		if err != nil {
			return err
		}
		*v = vec
		return nil
	default:
		return fmt.Errorf("不支持的向量列类型: %T", src)
	}
}

// GormDataType 通用数据类型，由各方言映射为 bytea / blob
func (Vector) GormDataType() string {
	return string(schema.Bytes)
}

// GormDBDataType 按方言返回列类型
func (Vector) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "bytea"
	default:
		return "blob"
	}
}

// EncodeVector 编码为小端 float32 字节
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector 从小端 float32 字节解码
func DecodeVector(data []byte) (Vector, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("向量字节长度 %d 不是 4 的倍数", len(data))
	}
	vec := make(Vector, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// AutoMigrate 迁移检索引擎所需的表
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&Document{}, &DocumentChunk{}); err != nil {
		return fmt.Errorf("迁移文档表失败: %w", err)
	}
	return nil
}
