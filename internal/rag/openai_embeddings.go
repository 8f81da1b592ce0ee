package rag

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// DefaultEmbeddingModel 句向量模型
const DefaultEmbeddingModel = "all-MiniLM-L6-v2"

// maxEmbeddingInputs 单次请求最多的输入条数
const maxEmbeddingInputs = 2048

// OpenAIEmbedderConfig OpenAI 兼容的 Embeddings 服务配置
type OpenAIEmbedderConfig struct {
	APIKey    string
	BaseURL   string // 为空时使用 OpenAI 官方地址，也可指向本地部署的兼容服务
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// OpenAIEmbedder 通过 OpenAI Embeddings 协议生成向量
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
}

// NewOpenAIEmbedder 创建向量化客户端
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	batch := cfg.BatchSize
	if batch <= 0 || batch > maxEmbeddingInputs {
		batch = maxEmbeddingInputs
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dim,
		batchSize: batch,
	}
}

// Embed 向量化单条文本
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("文本不能为空")
	}
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化，超过单次上限时分批请求，结果顺序与输入一致
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("批量向量化失败(batch %d-%d): %w", i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	// 只有 text-embedding-3 系列支持指定输出维度
	if strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = e.dimension
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("调用 Embeddings API 失败: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("Embeddings API 返回向量数量不匹配: 期望%d, 实际%d", len(texts), len(resp.Data))
	}

	// 按返回的 index 归位；index 缺失或重复时按返回顺序
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(texts) || vectors[idx] != nil {
			return positional(resp.Data), nil
		}
		vectors[idx] = item.Embedding
	}
	return vectors, nil
}

func positional(data []openai.Embedding) [][]float32 {
	vectors := make([][]float32, len(data))
	for i, item := range data {
		vectors[i] = item.Embedding
	}
	return vectors
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}
