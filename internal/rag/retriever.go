package rag

import (
	"context"
	"sort"
	"strings"
	"time"

	"knowledge-assistant/internal/metrics"

	"go.uber.org/zap"
)

// Gate 检索结果的相关性判定
type Gate string

const (
	GateNoMatch      Gate = "NO_MATCH"
	GateLowRelevance Gate = "LOW_RELEVANCE"
	GateConfident    Gate = "CONFIDENT"
)

const (
	DefaultTopK               = 3
	DefaultRelevanceThreshold = 0.2
)

// QueryResult 一条检索结果
type QueryResult struct {
	ChunkID         string  `json:"chunkId"`
	DocumentID      string  `json:"documentId"`
	ChunkIndex      int     `json:"chunkIndex"`
	Content         string  `json:"content"`
	Distance        float32 `json:"distance"`
	SimilarityScore float64 `json:"similarityScore"`
}

// Retrieval 一次检索的结果与判定
type Retrieval struct {
	Gate       Gate          `json:"gate"`
	Results    []QueryResult `json:"results"`
	Generation uint64        `json:"generation"`
}

// Top 得分最高的结果
func (r *Retrieval) Top() (QueryResult, bool) {
	if r == nil || len(r.Results) == 0 {
		return QueryResult{}, false
	}
	return r.Results[0], true
}

// Retriever 查询向量化、近邻检索、内容回填、排序与判定
type Retriever struct {
	index     *IndexManager
	embedder  Embedder
	chunks    ChunkStore
	topK      int
	threshold float64
	logger    *zap.Logger
}

// NewRetriever 创建检索器
func NewRetriever(index *IndexManager, embedder Embedder, chunks ChunkStore, topK int, threshold float64, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold < 0 || threshold > 1 {
		threshold = DefaultRelevanceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		index:     index,
		embedder:  embedder,
		chunks:    chunks,
		topK:      topK,
		threshold: threshold,
		logger:    logger,
	}
}

// Similarity 距离转相似度，取值 (0, 1]，随距离严格递减
func Similarity(distance float32) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + float64(distance))
}

// Search 检索与问题最相关的分块。k<=0 时使用默认值。
func (r *Retriever) Search(ctx context.Context, question string, k int) (*Retrieval, error) {
	if strings.TrimSpace(question) == "" {
		return nil, newError(KindEmptyInput, "retriever.search", errEmptyQuestion)
	}
	if k <= 0 {
		k = r.topK
	}

	start := time.Now()
	snap := r.index.Current()
	retrieval, err := r.search(ctx, snap, question, k)
	if err != nil {
		metrics.RecordSearch("error", time.Since(start), 0)
		return nil, err
	}
	metrics.RecordSearch(string(retrieval.Gate), time.Since(start), len(retrieval.Results))
	return retrieval, nil
}

func (r *Retriever) search(ctx context.Context, snap *IndexSnapshot, question string, k int) (*Retrieval, error) {
	idx := snap.Index
	if idx.Size() == 0 {
		return &Retrieval{Gate: GateNoMatch, Results: []QueryResult{}, Generation: snap.Generation}, nil
	}
	if k > idx.Size() {
		k = idx.Size()
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, newError(KindRetrievalFailure, "retriever.embed", err)
	}
	neighbors, err := idx.Search(vec, k)
	if err != nil {
		return nil, newError(KindRetrievalFailure, "retriever.search", err)
	}

	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}
	found, err := r.chunks.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, newError(KindRetrievalFailure, "retriever.hydrate", err)
	}

	results := make([]QueryResult, 0, len(neighbors))
	for _, n := range neighbors {
		chunk, ok := found[n.ID]
		if !ok {
			// 索引中的分块已被删除，等待下次重建
			r.logger.Debug("检索结果对应的分块不存在", zap.String("chunk_id", n.ID))
			continue
		}
		results = append(results, QueryResult{
			ChunkID:         chunk.ID,
			DocumentID:      chunk.DocumentID,
			ChunkIndex:      chunk.ChunkIndex,
			Content:         chunk.Content,
			Distance:        n.Distance,
			SimilarityScore: Similarity(n.Distance),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})

	return &Retrieval{
		Gate:       r.gate(results),
		Results:    results,
		Generation: snap.Generation,
	}, nil
}

// gate 全部得分低于阈值时判为低相关
func (r *Retriever) gate(results []QueryResult) Gate {
	if len(results) == 0 {
		return GateNoMatch
	}
	for _, res := range results {
		if res.SimilarityScore >= r.threshold {
			return GateConfident
		}
	}
	return GateLowRelevance
}

// Threshold 相关性阈值
func (r *Retriever) Threshold() float64 {
	return r.threshold
}
