package rag

import (
	"context"
	"fmt"
)

// Embedder 把文本映射为固定维度的向量。同一进程内所有向量来自同一个 Embedder。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// checkDimensions 校验一批向量都是期望维度
func checkDimensions(vectors [][]float32, dim int) error {
	for i, vec := range vectors {
		if len(vec) != dim {
			return fmt.Errorf("第 %d 个向量维度为 %d, 期望 %d", i, len(vec), dim)
		}
	}
	return nil
}
